package settlement

import (
	"fmt"
	"strings"
)

// AssetSelector picks the currency a purchase is paid in. A nil Mint selects
// the native currency.
type AssetSelector struct {
	Mint *[20]byte
	// SourceHolding optionally names the payer's token holding. When nil the
	// payer's associated holding for Mint is used.
	SourceHolding *[20]byte
}

// NativeAsset selects the native currency.
func NativeAsset() AssetSelector { return AssetSelector{} }

// TokenAsset selects the token identified by mint.
func TokenAsset(mint [20]byte) AssetSelector {
	m := mint
	return AssetSelector{Mint: &m}
}

// IsNative reports whether the selector picks the native currency.
func (a AssetSelector) IsNative() bool { return a.Mint == nil }

// PurchaseRequest is one purchase to settle. The caller owns it; the engine
// only reads it.
type PurchaseRequest struct {
	ContentID      string
	PurchaseID     string
	Amount         uint64
	FeeBps         uint16
	ReferrerFeeBps uint16
	Payer          [20]byte
	Creator        [20]byte
	Platform       [20]byte
	Referrer       *[20]byte
	Asset          AssetSelector
}

// HasReferrer reports whether a referrer identity was supplied.
func (r PurchaseRequest) HasReferrer() bool { return r.Referrer != nil }

// EffectiveReferrerFeeBps is the referrer rate actually applied: zero when
// no referrer was supplied.
func (r PurchaseRequest) EffectiveReferrerFeeBps() uint16 {
	if !r.HasReferrer() {
		return 0
	}
	return r.ReferrerFeeBps
}

func (r PurchaseRequest) validate() error {
	if strings.TrimSpace(r.ContentID) == "" {
		return fmt.Errorf("%w: content id required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.PurchaseID) == "" {
		return fmt.Errorf("%w: purchase id required", ErrInvalidRequest)
	}
	if isZero(r.Payer) {
		return fmt.Errorf("%w: payer required", ErrInvalidRequest)
	}
	if isZero(r.Creator) {
		return fmt.Errorf("%w: creator required", ErrInvalidRequest)
	}
	if isZero(r.Platform) {
		return fmt.Errorf("%w: platform required", ErrInvalidRequest)
	}
	if r.Referrer != nil && isZero(*r.Referrer) {
		return fmt.Errorf("%w: referrer must not be the zero identity", ErrInvalidRequest)
	}
	if r.Asset.IsNative() && r.Asset.SourceHolding != nil {
		return fmt.Errorf("%w: source holding only applies to token purchases", ErrInvalidRequest)
	}
	return nil
}

func isZero(addr [20]byte) bool {
	return addr == [20]byte{}
}
