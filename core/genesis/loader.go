// core/genesis/loader.go
package genesis

import (
	"fmt"
	"sort"

	"contentpay/core/state"
	"contentpay/core/types"
)

// Apply writes spec into the ledger in one atomic transaction. A ledger that
// was already seeded is left untouched and Apply reports false.
func Apply(manager *state.Manager, spec *GenesisSpec) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return false, fmt.Errorf("state manager must not be nil")
	}
	if err := spec.validate(); err != nil {
		return false, err
	}
	applied := false
	err := manager.Atomic(func(tx *state.Tx) error {
		seeded, err := tx.GenesisApplied()
		if err != nil || seeded {
			return err
		}
		mints := append([]MintSpec(nil), spec.Mints...)
		sort.Slice(mints, func(i, j int) bool { return mints[i].ID < mints[j].ID })
		for _, m := range mints {
			if err := tx.PutMint(&types.Mint{ID: m.id, Symbol: m.Symbol, Decimals: m.Decimals}); err != nil {
				return fmt.Errorf("mint %s: %w", m.ID, err)
			}
		}
		for account, amount := range spec.Alloc {
			addr, _ := parseAccount(account)
			balance, _ := parseAmountString(amount)
			if err := tx.PutAccount(addr, &types.Account{Balance: balance}); err != nil {
				return fmt.Errorf("alloc %s: %w", account, err)
			}
		}
		for i, h := range spec.Holdings {
			address := state.AssociatedHolding(h.owner, h.mint)
			if h.address != nil {
				address = *h.address
			}
			if _, exists, err := tx.Holding(address); err != nil {
				return err
			} else if exists {
				return fmt.Errorf("holding[%d]: duplicate holding address", i)
			}
			holding := &types.TokenHolding{Address: address, Owner: h.owner, Mint: h.mint, Amount: h.amount}
			if err := tx.PutHolding(holding); err != nil {
				return fmt.Errorf("holding[%d]: %w", i, err)
			}
		}
		applied = true
		return tx.MarkGenesisApplied(spec.GenesisTimestamp())
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
