package settlement

import (
	"fmt"

	"contentpay/core/types"
)

// NativeDecimals is the decimal precision of the native currency.
const NativeDecimals uint8 = 9

// CurrencyKind distinguishes native from token settlements.
type CurrencyKind uint8

const (
	CurrencyNative CurrencyKind = iota
	CurrencyToken
)

func (k CurrencyKind) String() string {
	switch k {
	case CurrencyNative:
		return "NATIVE"
	case CurrencyToken:
		return "TOKEN"
	default:
		return fmt.Sprintf("CurrencyKind(%d)", uint8(k))
	}
}

// MarshalText renders the kind as NATIVE or TOKEN.
func (k CurrencyKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// NativeLedger moves native currency between identities.
type NativeLedger interface {
	TransferNative(from, to [20]byte, amount uint64) error
}

// TokenLedger exposes the token accounts needed to settle in a mint.
type TokenLedger interface {
	Mint(id [20]byte) (*types.Mint, bool, error)
	Holding(addr [20]byte) (*types.TokenHolding, bool, error)
	AssociatedHolding(owner, mint [20]byte) [20]byte
	TransferToken(fromHolding, toHolding, authority [20]byte, amount uint64) error
}

// CurrencyAdapter is the MOVE capability for one currency. An adapter is
// selected once per settlement and used for every transfer within it.
type CurrencyAdapter interface {
	Kind() CurrencyKind
	// Asset returns the mint identity, or nil for the native currency.
	Asset() *[20]byte
	Decimals() uint8
	// Prepare validates the accounts involved without moving funds.
	Prepare(req PurchaseRequest) error
	Move(from, to [20]byte, amount uint64) error
}

// SelectAdapter resolves the adapter for the requested asset. Token mints
// outside the allowlist are rejected before the ledger is consulted.
func SelectAdapter(schedule FeeSchedule, asset AssetSelector, native NativeLedger, token TokenLedger) (CurrencyAdapter, error) {
	if asset.IsNative() {
		if native == nil {
			return nil, errNilEnvironment
		}
		return &NativeAdapter{ledger: native}, nil
	}
	mint := *asset.Mint
	if !schedule.Allowed(mint) {
		return nil, fmt.Errorf("%w: mint %x", ErrUnsupportedAsset, mint)
	}
	if token == nil {
		return nil, errNilEnvironment
	}
	record, ok, err := token.Mint(mint)
	if err != nil {
		return nil, err
	}
	if !ok || record == nil {
		return nil, fmt.Errorf("%w: mint %x not registered", ErrInvalidAssetMint, mint)
	}
	adapter := &TokenAdapter{ledger: token, mint: mint, decimals: record.Decimals}
	if asset.SourceHolding != nil {
		src := *asset.SourceHolding
		adapter.source = &src
	}
	return adapter, nil
}

// NativeAdapter settles in the native currency.
type NativeAdapter struct {
	ledger NativeLedger
}

// NewNativeAdapter wraps a native ledger.
func NewNativeAdapter(ledger NativeLedger) *NativeAdapter { return &NativeAdapter{ledger: ledger} }

func (a *NativeAdapter) Kind() CurrencyKind { return CurrencyNative }

func (a *NativeAdapter) Asset() *[20]byte { return nil }

func (a *NativeAdapter) Decimals() uint8 { return NativeDecimals }

func (a *NativeAdapter) Prepare(PurchaseRequest) error { return nil }

func (a *NativeAdapter) Move(from, to [20]byte, amount uint64) error {
	if err := a.ledger.TransferNative(from, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// TokenAdapter settles in an allowlisted token mint.
type TokenAdapter struct {
	ledger   TokenLedger
	mint     [20]byte
	decimals uint8
	payer    [20]byte
	source   *[20]byte
}

func (a *TokenAdapter) Kind() CurrencyKind { return CurrencyToken }

func (a *TokenAdapter) Asset() *[20]byte {
	mint := a.mint
	return &mint
}

func (a *TokenAdapter) Decimals() uint8 { return a.decimals }

// Prepare checks that the payer's source holding and every beneficiary's
// associated holding exist, belong to the right owner and hold the mint.
func (a *TokenAdapter) Prepare(req PurchaseRequest) error {
	a.payer = req.Payer
	source := a.ledger.AssociatedHolding(req.Payer, a.mint)
	if a.source != nil {
		source = *a.source
	}
	if err := a.checkHolding(source, req.Payer, "payer"); err != nil {
		return err
	}
	a.source = &source
	if err := a.checkHolding(a.ledger.AssociatedHolding(req.Creator, a.mint), req.Creator, "creator"); err != nil {
		return err
	}
	if err := a.checkHolding(a.ledger.AssociatedHolding(req.Platform, a.mint), req.Platform, "platform"); err != nil {
		return err
	}
	if req.Referrer != nil && req.EffectiveReferrerFeeBps() > 0 {
		if err := a.checkHolding(a.ledger.AssociatedHolding(*req.Referrer, a.mint), *req.Referrer, "referrer"); err != nil {
			return err
		}
	}
	return nil
}

func (a *TokenAdapter) checkHolding(addr, owner [20]byte, role string) error {
	holding, ok, err := a.ledger.Holding(addr)
	if err != nil {
		return err
	}
	if !ok || holding == nil {
		return fmt.Errorf("%w: %s has no holding account", ErrInvalidAccountOwner, role)
	}
	if holding.Owner != owner {
		return fmt.Errorf("%w: %s holding owned by %x", ErrInvalidAccountOwner, role, holding.Owner)
	}
	if holding.Mint != a.mint {
		return fmt.Errorf("%w: %s holding carries mint %x", ErrInvalidAssetMint, role, holding.Mint)
	}
	return nil
}

// Move transfers between the holdings of from and to. Transfers out of the
// payer use the holding validated by Prepare.
func (a *TokenAdapter) Move(from, to [20]byte, amount uint64) error {
	source := a.ledger.AssociatedHolding(from, a.mint)
	if a.source != nil && from == a.payer {
		source = *a.source
	}
	destination := a.ledger.AssociatedHolding(to, a.mint)
	if err := a.ledger.TransferToken(source, destination, from, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}
