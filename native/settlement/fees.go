package settlement

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Split is the division of one payment among the beneficiaries.
type Split struct {
	ReferrerAmount uint64
	PlatformAmount uint64
	CreatorAmount  uint64
}

// Total returns the sum of all shares. For every split produced by
// ComputeSplit it equals the settled amount.
func (s Split) Total() uint64 {
	return s.ReferrerAmount + s.PlatformAmount + s.CreatorAmount
}

// ComputeSplit divides amount using the package defaults. See
// FeeSchedule.ComputeSplit.
func ComputeSplit(amount uint64, feeBps, referrerFeeBps uint16) (Split, error) {
	return DefaultFeeSchedule().ComputeSplit(amount, feeBps, referrerFeeBps)
}

// ComputeSplit applies the platform and referrer rates to the same base
// amount and assigns the remainder, including every rounding remainder, to
// the creator.
func (s FeeSchedule) ComputeSplit(amount uint64, feeBps, referrerFeeBps uint16) (Split, error) {
	if err := s.CheckBounds(feeBps, referrerFeeBps); err != nil {
		return Split{}, err
	}
	referrer, err := s.applyBps(amount, referrerFeeBps)
	if err != nil {
		return Split{}, err
	}
	platform, err := s.applyBps(amount, feeBps)
	if err != nil {
		return Split{}, err
	}
	if platform > amount {
		return Split{}, fmt.Errorf("%w: platform fee %d > amount %d", ErrUnderflow, platform, amount)
	}
	creator := amount - platform
	if referrer > creator {
		return Split{}, fmt.Errorf("%w: referrer fee %d > remaining %d", ErrUnderflow, referrer, creator)
	}
	creator -= referrer
	return Split{
		ReferrerAmount: referrer,
		PlatformAmount: platform,
		CreatorAmount:  creator,
	}, nil
}

// applyBps returns floor(amount * bps / denominator).
func (s FeeSchedule) applyBps(amount uint64, bps uint16) (uint64, error) {
	if bps == 0 {
		return 0, nil
	}
	if s.BpsDenominator == 0 {
		return 0, fmt.Errorf("%w: zero bps denominator", ErrUnderflow)
	}
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), uint256.NewInt(uint64(bps)))
	if overflow || !product.IsUint64() {
		return 0, fmt.Errorf("%w: %d * %d bps", ErrOverflow, amount, bps)
	}
	return product.Uint64() / s.BpsDenominator, nil
}
