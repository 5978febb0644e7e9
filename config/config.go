package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"contentpay/native/settlement"
)

// Default returns the stock fee schedule with an empty token allowlist.
func Default() FeeSchedule {
	return FeeSchedule{
		Fees: Fees{
			BpsDenominator:    settlement.DefaultBpsDenominator,
			MaxFeeBps:         settlement.DefaultMaxFeeBps,
			MaxReferrerFeeBps: settlement.DefaultMaxReferrerFeeBps,
		},
		Tokens: []Token{},
	}
}

// Load loads the fee schedule from the given path. A missing file is created
// with the defaults.
func Load(path string) (*FeeSchedule, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	if cfg.Tokens == nil {
		cfg.Tokens = []Token{}
	}
	return &cfg, nil
}

// LoadFeeSchedule loads and validates the fee schedule at path.
func LoadFeeSchedule(path string) (settlement.FeeSchedule, error) {
	cfg, err := Load(path)
	if err != nil {
		return settlement.FeeSchedule{}, err
	}
	schedule, err := ValidateFeeSchedule(*cfg)
	if err != nil {
		return settlement.FeeSchedule{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return schedule, nil
}

// createDefault creates and saves a default fee schedule file.
func createDefault(path string) (*FeeSchedule, error) {
	cfg := Default()
	if err := persist(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func persist(path string, cfg *FeeSchedule) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
