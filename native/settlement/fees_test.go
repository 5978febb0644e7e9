package settlement

import (
	"errors"
	"math"
	"testing"
)

func TestComputeSplitExamples(t *testing.T) {
	cases := []struct {
		name        string
		amount      uint64
		feeBps      uint16
		referrerBps uint16
		want        Split
	}{
		{"five percent with referrer", 1_000_000, 500, 100, Split{ReferrerAmount: 10_000, PlatformAmount: 50_000, CreatorAmount: 940_000}},
		{"maximum rates", 1_000_000, 3000, 500, Split{ReferrerAmount: 50_000, PlatformAmount: 300_000, CreatorAmount: 650_000}},
		{"rounding favours creator", 7, 1, 0, Split{CreatorAmount: 7}},
		{"zero fees", 123, 0, 0, Split{CreatorAmount: 123}},
		{"zero amount", 0, 3000, 500, Split{}},
		{"remainder to creator", 10_001, 332, 499, Split{ReferrerAmount: 499, PlatformAmount: 332, CreatorAmount: 9_170}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeSplit(tc.amount, tc.feeBps, tc.referrerBps)
			if err != nil {
				t.Fatalf("compute split: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected split: got %+v want %+v", got, tc.want)
			}
			if got.Total() != tc.amount {
				t.Fatalf("split does not conserve funds: %d != %d", got.Total(), tc.amount)
			}
		})
	}
}

func TestComputeSplitRejectsExcessiveFees(t *testing.T) {
	if _, err := ComputeSplit(1_000, 3001, 0); !errors.Is(err, ErrFeeExceedsMaximum) {
		t.Fatalf("expected fee maximum error, got %v", err)
	}
	if _, err := ComputeSplit(1_000, 0, 501); !errors.Is(err, ErrFeeExceedsMaximum) {
		t.Fatalf("expected referrer fee maximum error, got %v", err)
	}
	// Bounds are checked before the amount is touched, so even an
	// overflowing amount reports the fee error.
	if _, err := ComputeSplit(math.MaxUint64, 3001, 0); !errors.Is(err, ErrFeeExceedsMaximum) {
		t.Fatalf("expected fee maximum error before arithmetic, got %v", err)
	}
}

func TestComputeSplitOverflow(t *testing.T) {
	_, err := ComputeSplit(math.MaxUint64, 2, 0)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	// Largest amount whose product with 3000 still fits in 64 bits.
	limit := uint64(math.MaxUint64) / 3000
	split, err := ComputeSplit(limit, 3000, 0)
	if err != nil {
		t.Fatalf("unexpected error at limit: %v", err)
	}
	if split.Total() != limit {
		t.Fatalf("split does not conserve funds at limit")
	}
	// Zero bps never multiplies, so any amount is accepted.
	split, err = ComputeSplit(math.MaxUint64, 0, 0)
	if err != nil || split.CreatorAmount != math.MaxUint64 {
		t.Fatalf("expected full amount to creator, got %+v (%v)", split, err)
	}
}

func TestComputeSplitUnderflowWithPermissiveSchedule(t *testing.T) {
	schedule := FeeSchedule{BpsDenominator: 100, MaxFeeBps: 100, MaxReferrerFeeBps: 100}
	if _, err := schedule.ComputeSplit(1_000, 100, 100); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	split, err := schedule.ComputeSplit(1_000, 60, 40)
	if err != nil {
		t.Fatalf("compute split: %v", err)
	}
	if split.CreatorAmount != 0 || split.Total() != 1_000 {
		t.Fatalf("unexpected split %+v", split)
	}
}

func TestComputeSplitIsDeterministic(t *testing.T) {
	for amount := uint64(0); amount < 5_000; amount += 37 {
		for _, fee := range []uint16{0, 1, 250, 2999, 3000} {
			for _, ref := range []uint16{0, 1, 499, 500} {
				first, err := ComputeSplit(amount, fee, ref)
				if err != nil {
					t.Fatalf("compute split: %v", err)
				}
				second, _ := ComputeSplit(amount, fee, ref)
				if first != second {
					t.Fatalf("split not deterministic for %d/%d/%d", amount, fee, ref)
				}
				if first.Total() != amount {
					t.Fatalf("conservation violated for %d/%d/%d: %+v", amount, fee, ref, first)
				}
			}
		}
	}
}

func TestFeeScheduleValidate(t *testing.T) {
	if err := DefaultFeeSchedule().Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}
	bad := []FeeSchedule{
		{BpsDenominator: 0},
		{BpsDenominator: 100, MaxFeeBps: 101},
		{BpsDenominator: 10_000, MaxFeeBps: 100, MaxReferrerFeeBps: 101},
		{BpsDenominator: 10_000, Tokens: []AllowedToken{{Symbol: "EMPTY"}}},
		{BpsDenominator: 10_000, Tokens: []AllowedToken{{Mint: [20]byte{1}}, {Mint: [20]byte{1}}}},
	}
	for i, schedule := range bad {
		if err := schedule.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestErrorKind(t *testing.T) {
	_, err := ComputeSplit(1, 4000, 0)
	if kind := ErrorKind(err); kind != "FeeExceedsMaximum" {
		t.Fatalf("unexpected kind %q", kind)
	}
	if kind := ErrorKind(errors.New("other")); kind != "" {
		t.Fatalf("unexpected kind %q for foreign error", kind)
	}
}
