package settlement

import (
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"contentpay/core/events"
	"contentpay/core/types"
	"contentpay/crypto"
)

// EventTypePurchaseSettled is emitted once per successful settlement.
const EventTypePurchaseSettled = "purchase.settled"

// SettlementRecord is the immutable audit trace of a successful settlement.
type SettlementRecord struct {
	ContentID      string
	PurchaseID     string
	Payer          [20]byte
	Creator        [20]byte
	Platform       [20]byte
	Referrer       *[20]byte
	Asset          *[20]byte
	Currency       CurrencyKind
	Decimals       uint8
	Amount         uint64
	CreatorAmount  uint64
	PlatformFee    uint64
	ReferrerFee    uint64
	FeeBps         uint16
	ReferrerFeeBps uint16
	Sequence       uint64
	Timestamp      int64
}

// EventType satisfies the events.Event interface.
func (SettlementRecord) EventType() string { return EventTypePurchaseSettled }

// Split returns the beneficiary shares carried by the record.
func (r SettlementRecord) Split() Split {
	return Split{ReferrerAmount: r.ReferrerFee, PlatformAmount: r.PlatformFee, CreatorAmount: r.CreatorAmount}
}

// Event converts the record into a broadcastable event.
func (r SettlementRecord) Event() *types.Event {
	attrs := map[string]string{
		"contentId":      r.ContentID,
		"purchaseId":     r.PurchaseID,
		"payer":          crypto.FormatAccount(r.Payer),
		"creator":        crypto.FormatAccount(r.Creator),
		"platform":       crypto.FormatAccount(r.Platform),
		"currency":       r.Currency.String(),
		"decimals":       strconv.FormatUint(uint64(r.Decimals), 10),
		"amount":         strconv.FormatUint(r.Amount, 10),
		"displayAmount":  DisplayAmount(r.Amount, r.Decimals),
		"creatorAmount":  strconv.FormatUint(r.CreatorAmount, 10),
		"platformFee":    strconv.FormatUint(r.PlatformFee, 10),
		"referrerFee":    strconv.FormatUint(r.ReferrerFee, 10),
		"feeBps":         strconv.FormatUint(uint64(r.FeeBps), 10),
		"referrerFeeBps": strconv.FormatUint(uint64(r.ReferrerFeeBps), 10),
		"sequence":       strconv.FormatUint(r.Sequence, 10),
		"timestamp":      strconv.FormatInt(r.Timestamp, 10),
	}
	if r.Referrer != nil {
		attrs["referrer"] = crypto.FormatAccount(*r.Referrer)
	}
	if r.Asset != nil {
		attrs["mint"] = crypto.FormatAsset(*r.Asset)
	}
	return &types.Event{Type: EventTypePurchaseSettled, Attributes: attrs}
}

// DisplayAmount renders base units as a decimal string at the given precision.
func DisplayAmount(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

// Recorder builds settlement records and hands them to the emitter.
type Recorder struct {
	emitter events.Emitter
}

// NewRecorder wraps emitter. A nil emitter discards records.
func NewRecorder(emitter events.Emitter) Recorder {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return Recorder{emitter: emitter}
}

// Build assembles the record for a completed set of transfers. Content and
// purchase ids are opaque and copied verbatim.
func (Recorder) Build(req PurchaseRequest, split Split, adapter CurrencyAdapter, sequence uint64, timestamp int64) SettlementRecord {
	record := SettlementRecord{
		ContentID:      req.ContentID,
		PurchaseID:     req.PurchaseID,
		Payer:          req.Payer,
		Creator:        req.Creator,
		Platform:       req.Platform,
		Currency:       adapter.Kind(),
		Decimals:       adapter.Decimals(),
		Amount:         req.Amount,
		CreatorAmount:  split.CreatorAmount,
		PlatformFee:    split.PlatformAmount,
		ReferrerFee:    split.ReferrerAmount,
		FeeBps:         req.FeeBps,
		ReferrerFeeBps: req.EffectiveReferrerFeeBps(),
		Sequence:       sequence,
		Timestamp:      timestamp,
	}
	if req.Referrer != nil {
		referrer := *req.Referrer
		record.Referrer = &referrer
	}
	if asset := adapter.Asset(); asset != nil {
		mint := *asset
		record.Asset = &mint
	}
	return record
}

// Emit appends the record to the observation channel. Records are passed by
// value so the emitter cannot alter the caller's copy.
func (r Recorder) Emit(record SettlementRecord) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(record)
}
