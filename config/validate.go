package config

import (
	"fmt"
	"strings"

	"contentpay/crypto"
	"contentpay/native/settlement"
)

// ValidateFeeSchedule decodes the token allowlist and checks the fee limits,
// returning the runtime schedule.
func ValidateFeeSchedule(cfg FeeSchedule) (settlement.FeeSchedule, error) {
	schedule := settlement.FeeSchedule{
		BpsDenominator:    cfg.Fees.BpsDenominator,
		MaxFeeBps:         cfg.Fees.MaxFeeBps,
		MaxReferrerFeeBps: cfg.Fees.MaxReferrerFeeBps,
		Tokens:            make([]settlement.AllowedToken, 0, len(cfg.Tokens)),
	}
	for i, token := range cfg.Tokens {
		symbol := strings.TrimSpace(token.Symbol)
		if symbol == "" {
			return settlement.FeeSchedule{}, fmt.Errorf("tokens[%d]: symbol required", i)
		}
		mint, err := crypto.ParseAccount(token.Mint, crypto.AssetPrefix)
		if err != nil {
			return settlement.FeeSchedule{}, fmt.Errorf("tokens[%d] %s: %w", i, symbol, err)
		}
		schedule.Tokens = append(schedule.Tokens, settlement.AllowedToken{Mint: mint, Symbol: symbol})
	}
	if err := schedule.Validate(); err != nil {
		return settlement.FeeSchedule{}, err
	}
	return schedule, nil
}
