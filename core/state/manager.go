package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"contentpay/core/events"
	"contentpay/core/types"
	"contentpay/storage"
)

// Manager owns the ledger state persisted in a key/value store: native
// accounts, token mints and holdings, the settlement sequence and the audit
// log. All writes go through Atomic.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	emitter events.Emitter
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmitter forwards events to emitter after their transaction commits.
func WithEmitter(emitter events.Emitter) Option {
	return func(m *Manager) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// WithClock overrides the time source used to stamp settlements.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database, opts ...Option) *Manager {
	m := &Manager{db: db, emitter: events.NoopEmitter{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Atomic runs fn against a staged view of the ledger. Every write made by fn,
// including audit entries for emitted events, is committed in a single batch
// when fn returns nil and discarded otherwise. Calls are serialized.
func (m *Manager) Atomic(fn func(*Tx) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	if fn == nil {
		return fmt.Errorf("state: nil transaction func")
	}
	emitted, err := m.commit(fn)
	if err != nil {
		return err
	}
	for _, evt := range emitted {
		m.emitter.Emit(evt)
	}
	return nil
}

// commit stages and writes one transaction under the manager lock and
// returns the events it emitted.
func (m *Manager) commit(fn func(*Tx) error) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newTx(m.db, m.now().Unix())
	if err := fn(tx); err != nil {
		return nil, err
	}
	if tx.err != nil {
		return nil, tx.err
	}
	if err := m.db.Write(tx.batch()); err != nil {
		return nil, fmt.Errorf("state: commit: %w", err)
	}
	return tx.emitted, nil
}

// Account returns the native account for addr. Unknown identities have a
// zero balance.
func (m *Manager) Account(addr [20]byte) (*types.Account, error) {
	account := new(types.Account)
	if _, err := getRLP(m.db, accountKey(addr), account); err != nil {
		return nil, err
	}
	return account, nil
}

// Mint returns the registered mint for id.
func (m *Manager) Mint(id [20]byte) (*types.Mint, bool, error) {
	mint := new(types.Mint)
	ok, err := getRLP(m.db, mintKey(id), mint)
	if err != nil || !ok {
		return nil, false, err
	}
	return mint, true, nil
}

// Holding returns the token holding stored at addr.
func (m *Manager) Holding(addr [20]byte) (*types.TokenHolding, bool, error) {
	holding := new(types.TokenHolding)
	ok, err := getRLP(m.db, holdingKey(addr), holding)
	if err != nil || !ok {
		return nil, false, err
	}
	return holding, true, nil
}

// SequenceHead returns the sequence marker of the latest committed settlement.
func (m *Manager) SequenceHead() (uint64, error) {
	return getUint64(m.db, sequenceHeadKey)
}

// AssociatedHolding derives the canonical holding address of owner for mint.
func AssociatedHolding(owner, mint [20]byte) [20]byte {
	buf := make([]byte, 0, len(owner)+len(mint))
	buf = append(buf, owner[:]...)
	buf = append(buf, mint[:]...)
	sum := blake3.Sum256(buf)
	var out [20]byte
	copy(out[:], sum[:20])
	return out
}

type reader interface {
	Get(key []byte) ([]byte, error)
}

func getRLP(db reader, key []byte, out interface{}) (bool, error) {
	raw, err := db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func getUint64(db reader, key []byte) (uint64, error) {
	var value uint64
	if _, err := getRLP(db, key, &value); err != nil {
		return 0, err
	}
	return value, nil
}
