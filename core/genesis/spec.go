// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"contentpay/crypto"
)

// GenesisSpec seeds an empty ledger with native balances, token mints and
// token holdings. Account identities use the cp prefix; mints and holdings
// use cpa.
type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	Alloc       map[string]string `json:"alloc"` // account -> native amount
	Mints       []MintSpec        `json:"mints"`
	Holdings    []HoldingSpec     `json:"holdings"`

	genesisTimestamp time.Time
}

type MintSpec struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`

	id [20]byte
}

type HoldingSpec struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
	// Address overrides the associated holding address when set.
	Address string `json:"address,omitempty"`
	Amount  string `json:"amount"`

	owner   [20]byte
	mint    [20]byte
	address *[20]byte
	amount  uint64
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	// mints
	mints := make(map[[20]byte]struct{}, len(s.Mints))
	for i := range s.Mints {
		m := &s.Mints[i]
		id, err := crypto.ParseAccount(m.ID, crypto.AssetPrefix)
		if err != nil {
			return fmt.Errorf("mint[%d]: %w", i, err)
		}
		if strings.TrimSpace(m.Symbol) == "" {
			return fmt.Errorf("mint[%d]: symbol must be provided", i)
		}
		if m.Decimals > 18 {
			return fmt.Errorf("mint[%d]: decimals must be 18 or fewer", i)
		}
		if _, dup := mints[id]; dup {
			return fmt.Errorf("mint[%d]: duplicate id %q", i, m.ID)
		}
		mints[id] = struct{}{}
		m.id = id
	}

	// alloc
	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		if _, err := crypto.ParseAccount(account, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		if _, err := parseAmountString(s.Alloc[account]); err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
	}

	// holdings
	for i := range s.Holdings {
		h := &s.Holdings[i]
		owner, err := crypto.ParseAccount(h.Owner, crypto.AccountPrefix)
		if err != nil {
			return fmt.Errorf("holding[%d]: owner: %w", i, err)
		}
		mint, err := crypto.ParseAccount(h.Mint, crypto.AssetPrefix)
		if err != nil {
			return fmt.Errorf("holding[%d]: mint: %w", i, err)
		}
		if _, ok := mints[mint]; !ok {
			return fmt.Errorf("holding[%d]: undefined mint %q", i, h.Mint)
		}
		if strings.TrimSpace(h.Address) != "" {
			addr, err := crypto.ParseAccount(h.Address, crypto.AssetPrefix)
			if err != nil {
				return fmt.Errorf("holding[%d]: address: %w", i, err)
			}
			h.address = &addr
		}
		amount, err := parseAmountString(h.Amount)
		if err != nil {
			return fmt.Errorf("holding[%d]: %w", i, err)
		}
		h.owner, h.mint, h.amount = owner, mint, amount
	}
	return nil
}

func parseAmountString(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("genesisTime: %w", err)
	}
	return parsed.UTC(), nil
}

func parseAccount(value string) ([20]byte, error) {
	return crypto.ParseAccount(value, crypto.AccountPrefix)
}
