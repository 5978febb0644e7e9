package bank

import (
	"errors"
	"fmt"

	"contentpay/core/types"
)

var (
	// ErrInsufficientBalance reports a debit larger than the available funds.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrBalanceOverflow reports a credit that would wrap the recipient balance.
	ErrBalanceOverflow = errors.New("bank: balance overflow")
	// ErrUnknownHolding reports a token holding that does not exist.
	ErrUnknownHolding = errors.New("bank: unknown holding")
	// ErrNotAuthorized reports a token debit signed by someone other than the owner.
	ErrNotAuthorized = errors.New("bank: authority does not own holding")
	// ErrMintMismatch reports a token transfer between holdings of different mints.
	ErrMintMismatch = errors.New("bank: holding mint mismatch")
)

// AccountStore reads and writes native accounts. Missing accounts are
// returned as zero-balance accounts.
type AccountStore interface {
	Account(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// HoldingStore reads and writes token holdings.
type HoldingStore interface {
	Holding(addr [20]byte) (*types.TokenHolding, bool, error)
	PutHolding(holding *types.TokenHolding) error
}

// MoveNative debits from and credits to. A zero amount or a self transfer is
// a no-op.
func MoveNative(accounts AccountStore, from, to [20]byte, amount uint64) error {
	if accounts == nil {
		return fmt.Errorf("bank: account store required")
	}
	if amount == 0 || from == to {
		return nil
	}
	sender, err := accounts.Account(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sender.Balance, amount)
	}
	recipient, err := accounts.Account(to)
	if err != nil {
		return err
	}
	credited, err := credit(recipient.Balance, amount)
	if err != nil {
		return err
	}
	sender.Balance -= amount
	recipient.Balance = credited
	if err := accounts.PutAccount(from, sender); err != nil {
		return err
	}
	return accounts.PutAccount(to, recipient)
}

// MoveToken transfers amount between two holdings of the same mint. The
// authority must own the source holding.
func MoveToken(holdings HoldingStore, from, to, authority [20]byte, amount uint64) error {
	if holdings == nil {
		return fmt.Errorf("bank: holding store required")
	}
	source, ok, err := holdings.Holding(from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %x", ErrUnknownHolding, from)
	}
	if source.Owner != authority {
		return fmt.Errorf("%w: %x", ErrNotAuthorized, from)
	}
	destination, ok, err := holdings.Holding(to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %x", ErrUnknownHolding, to)
	}
	if source.Mint != destination.Mint {
		return fmt.Errorf("%w: %x != %x", ErrMintMismatch, source.Mint, destination.Mint)
	}
	if amount == 0 || from == to {
		return nil
	}
	if source.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, source.Amount, amount)
	}
	credited, err := credit(destination.Amount, amount)
	if err != nil {
		return err
	}
	source.Amount -= amount
	destination.Amount = credited
	if err := holdings.PutHolding(source); err != nil {
		return err
	}
	return holdings.PutHolding(destination)
}

func credit(balance, amount uint64) (uint64, error) {
	sum := balance + amount
	if sum < balance {
		return 0, fmt.Errorf("%w: %d + %d", ErrBalanceOverflow, balance, amount)
	}
	return sum, nil
}
