package settlement

import (
	"fmt"

	"contentpay/core/events"
)

// Environment is the execution context of one settlement: the ledgers that
// move funds, the clock that stamps records and the emitter that receives
// them. The host guarantees that either every transfer and the emitted
// record are applied, or none are.
type Environment interface {
	NativeLedger
	TokenLedger
	events.Emitter
	// Clock returns the sequence marker and unix timestamp for the record.
	Clock() (sequence uint64, timestamp int64)
}

// Beneficiary names a recipient of part of a settled payment.
type Beneficiary string

const (
	BeneficiaryReferrer Beneficiary = "referrer"
	BeneficiaryPlatform Beneficiary = "platform"
	BeneficiaryCreator  Beneficiary = "creator"
)

type transferLeg struct {
	beneficiary Beneficiary
	to          [20]byte
	amount      uint64
}

// Engine settles purchases against a fixed fee schedule.
type Engine struct {
	schedule FeeSchedule
}

// NewEngine validates the schedule and returns an engine bound to it.
func NewEngine(schedule FeeSchedule) (*Engine, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &Engine{schedule: schedule.Clone()}, nil
}

// Schedule returns a copy of the configured fee schedule.
func (e *Engine) Schedule() FeeSchedule {
	if e == nil {
		return FeeSchedule{}
	}
	return e.schedule.Clone()
}

// Settle validates the request, splits the amount, moves funds to the
// referrer, platform and creator in that order, then records the
// settlement. The first failure ends the call; transfers already issued
// are left for the environment to discard.
func (e *Engine) Settle(env Environment, req PurchaseRequest) (*SettlementRecord, error) {
	if e == nil {
		return nil, errNilEngine
	}
	if env == nil {
		return nil, errNilEnvironment
	}

	adapter, err := SelectAdapter(e.schedule, req.Asset, env, env)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := e.schedule.CheckBounds(req.FeeBps, req.ReferrerFeeBps); err != nil {
		return nil, err
	}
	if err := adapter.Prepare(req); err != nil {
		return nil, err
	}

	split, err := e.schedule.ComputeSplit(req.Amount, req.FeeBps, req.EffectiveReferrerFeeBps())
	if err != nil {
		return nil, err
	}

	for _, leg := range plan(req, split) {
		if leg.amount == 0 {
			continue
		}
		if err := adapter.Move(req.Payer, leg.to, leg.amount); err != nil {
			return nil, fmt.Errorf("%s transfer: %w", leg.beneficiary, err)
		}
	}

	recorder := NewRecorder(env)
	sequence, timestamp := env.Clock()
	record := recorder.Build(req, split, adapter, sequence, timestamp)
	recorder.Emit(record)
	return &record, nil
}

// plan lists the transfers in their fixed order.
func plan(req PurchaseRequest, split Split) []transferLeg {
	legs := make([]transferLeg, 0, 3)
	if req.Referrer != nil {
		legs = append(legs, transferLeg{beneficiary: BeneficiaryReferrer, to: *req.Referrer, amount: split.ReferrerAmount})
	}
	legs = append(legs,
		transferLeg{beneficiary: BeneficiaryPlatform, to: req.Platform, amount: split.PlatformAmount},
		transferLeg{beneficiary: BeneficiaryCreator, to: req.Creator, amount: split.CreatorAmount},
	)
	return legs
}
