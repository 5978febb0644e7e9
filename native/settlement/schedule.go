package settlement

import (
	"fmt"
	"strings"
)

const (
	// DefaultBpsDenominator is the number of basis points in a whole unit.
	DefaultBpsDenominator uint64 = 10_000
	// DefaultMaxFeeBps caps the platform fee at 30%.
	DefaultMaxFeeBps uint16 = 3_000
	// DefaultMaxReferrerFeeBps caps the referrer fee at 5%.
	DefaultMaxReferrerFeeBps uint16 = 500
)

// AllowedToken is a token mint accepted for settlement.
type AllowedToken struct {
	Mint   [20]byte
	Symbol string
}

// FeeSchedule is the process-wide fee configuration. It is loaded once at
// start-up and never mutated while settlements run.
type FeeSchedule struct {
	BpsDenominator    uint64
	MaxFeeBps         uint16
	MaxReferrerFeeBps uint16
	Tokens            []AllowedToken
}

// DefaultFeeSchedule returns the stock limits with an empty token allowlist.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		BpsDenominator:    DefaultBpsDenominator,
		MaxFeeBps:         DefaultMaxFeeBps,
		MaxReferrerFeeBps: DefaultMaxReferrerFeeBps,
	}
}

// Validate enforces 0 <= MaxReferrerFeeBps <= MaxFeeBps <= BpsDenominator and
// a well-formed allowlist.
func (s FeeSchedule) Validate() error {
	if s.BpsDenominator == 0 {
		return fmt.Errorf("fee schedule: bps denominator must be positive")
	}
	if uint64(s.MaxFeeBps) > s.BpsDenominator {
		return fmt.Errorf("fee schedule: max fee bps %d exceeds denominator %d", s.MaxFeeBps, s.BpsDenominator)
	}
	if s.MaxReferrerFeeBps > s.MaxFeeBps {
		return fmt.Errorf("fee schedule: max referrer fee bps %d exceeds max fee bps %d", s.MaxReferrerFeeBps, s.MaxFeeBps)
	}
	seen := make(map[[20]byte]struct{}, len(s.Tokens))
	for _, token := range s.Tokens {
		if token.Mint == ([20]byte{}) {
			return fmt.Errorf("fee schedule: token %q has an empty mint", strings.TrimSpace(token.Symbol))
		}
		if _, dup := seen[token.Mint]; dup {
			return fmt.Errorf("fee schedule: duplicate token mint %x", token.Mint)
		}
		seen[token.Mint] = struct{}{}
	}
	return nil
}

// Allowed reports whether mint is on the token allowlist.
func (s FeeSchedule) Allowed(mint [20]byte) bool {
	for _, token := range s.Tokens {
		if token.Mint == mint {
			return true
		}
	}
	return false
}

// CheckBounds rejects fee rates above the configured caps.
func (s FeeSchedule) CheckBounds(feeBps, referrerFeeBps uint16) error {
	if feeBps > s.MaxFeeBps {
		return fmt.Errorf("%w: fee %d bps > %d", ErrFeeExceedsMaximum, feeBps, s.MaxFeeBps)
	}
	if referrerFeeBps > s.MaxReferrerFeeBps {
		return fmt.Errorf("%w: referrer fee %d bps > %d", ErrFeeExceedsMaximum, referrerFeeBps, s.MaxReferrerFeeBps)
	}
	return nil
}

// Clone returns a copy that does not alias the allowlist.
func (s FeeSchedule) Clone() FeeSchedule {
	clone := s
	clone.Tokens = append([]AllowedToken(nil), s.Tokens...)
	return clone
}
