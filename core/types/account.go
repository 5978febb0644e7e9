package types

// Account holds the native balance of an identity, in base units.
type Account struct {
	Balance uint64 `json:"balance"`
}

// Mint describes a fungible token registered with the ledger.
type Mint struct {
	ID       [20]byte `json:"id"`
	Symbol   string   `json:"symbol"`
	Decimals uint8    `json:"decimals"`
}

// TokenHolding is an account holding one mint on behalf of an owner.
type TokenHolding struct {
	Address [20]byte `json:"address"`
	Owner   [20]byte `json:"owner"`
	Mint    [20]byte `json:"mint"`
	Amount  uint64   `json:"amount"`
}

// Clone returns a copy of the holding.
func (h *TokenHolding) Clone() *TokenHolding {
	if h == nil {
		return nil
	}
	clone := *h
	return &clone
}
