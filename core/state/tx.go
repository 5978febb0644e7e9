package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"contentpay/core/events"
	"contentpay/core/types"
	"contentpay/native/bank"
	"contentpay/storage"
)

// Tx is a staged view of the ledger handed to Manager.Atomic callbacks.
// Reads observe the transaction's own writes. It satisfies the settlement
// environment contract.
type Tx struct {
	db        storage.Database
	writes    map[string][]byte
	order     []string
	timestamp int64
	pending   uint64
	emitted   []events.Event
	err       error
}

func newTx(db storage.Database, timestamp int64) *Tx {
	return &Tx{db: db, writes: make(map[string][]byte), timestamp: timestamp}
}

// Get reads key from the staged writes, falling back to the database.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if value, ok := tx.writes[string(key)]; ok {
		return append([]byte(nil), value...), nil
	}
	return tx.db.Get(key)
}

func (tx *Tx) put(key, value []byte) {
	k := string(key)
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = append([]byte(nil), value...)
}

func (tx *Tx) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	tx.put(key, encoded)
	return nil
}

func (tx *Tx) batch() *storage.Batch {
	batch := storage.NewBatch()
	for _, key := range tx.order {
		batch.Put([]byte(key), tx.writes[key])
	}
	return batch
}

// Account returns the staged native account for addr.
func (tx *Tx) Account(addr [20]byte) (*types.Account, error) {
	account := new(types.Account)
	if _, err := getRLP(tx, accountKey(addr), account); err != nil {
		return nil, err
	}
	return account, nil
}

// PutAccount stages account for addr.
func (tx *Tx) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return tx.putRLP(accountKey(addr), account)
}

// Mint returns the staged mint for id.
func (tx *Tx) Mint(id [20]byte) (*types.Mint, bool, error) {
	mint := new(types.Mint)
	ok, err := getRLP(tx, mintKey(id), mint)
	if err != nil || !ok {
		return nil, false, err
	}
	return mint, true, nil
}

// PutMint registers or replaces a mint.
func (tx *Tx) PutMint(mint *types.Mint) error {
	if mint == nil {
		return fmt.Errorf("state: nil mint")
	}
	if mint.ID == ([20]byte{}) {
		return fmt.Errorf("state: mint id required")
	}
	return tx.putRLP(mintKey(mint.ID), mint)
}

// Holding returns the staged token holding at addr.
func (tx *Tx) Holding(addr [20]byte) (*types.TokenHolding, bool, error) {
	holding := new(types.TokenHolding)
	ok, err := getRLP(tx, holdingKey(addr), holding)
	if err != nil || !ok {
		return nil, false, err
	}
	return holding, true, nil
}

// PutHolding stages holding at its address.
func (tx *Tx) PutHolding(holding *types.TokenHolding) error {
	if holding == nil {
		return fmt.Errorf("state: nil holding")
	}
	return tx.putRLP(holdingKey(holding.Address), holding)
}

// TransferNative moves native balance between identities.
func (tx *Tx) TransferNative(from, to [20]byte, amount uint64) error {
	return bank.MoveNative(tx, from, to, amount)
}

// AssociatedHolding derives the canonical holding address of owner for mint.
func (tx *Tx) AssociatedHolding(owner, mint [20]byte) [20]byte {
	return AssociatedHolding(owner, mint)
}

// TransferToken moves tokens between two holdings on behalf of authority.
func (tx *Tx) TransferToken(fromHolding, toHolding, authority [20]byte, amount uint64) error {
	return bank.MoveToken(tx, fromHolding, toHolding, authority, amount)
}

// Clock allocates the next settlement sequence and returns it with the
// transaction timestamp.
func (tx *Tx) Clock() (uint64, int64) {
	sequence, err := tx.nextSequence()
	if err != nil {
		tx.fail(err)
		return 0, tx.timestamp
	}
	tx.pending = sequence
	return sequence, tx.timestamp
}

func (tx *Tx) nextSequence() (uint64, error) {
	head, err := getUint64(tx, sequenceHeadKey)
	if err != nil {
		return 0, err
	}
	next := head + 1
	if next == 0 {
		return 0, fmt.Errorf("state: sequence exhausted")
	}
	if err := tx.putRLP(sequenceHeadKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Emit appends evt to the audit log under the sequence allocated by the
// preceding Clock call, or a fresh one. Subscribers see the event only once
// the transaction commits.
func (tx *Tx) Emit(evt events.Event) {
	if evt == nil || tx.err != nil {
		return
	}
	sequence := tx.pending
	tx.pending = 0
	if sequence == 0 {
		next, err := tx.nextSequence()
		if err != nil {
			tx.fail(err)
			return
		}
		sequence = next
	}
	if err := tx.appendAudit(sequence, evt); err != nil {
		tx.fail(err)
		return
	}
	tx.emitted = append(tx.emitted, evt)
}

func (tx *Tx) fail(err error) {
	if tx.err == nil {
		tx.err = err
	}
}

// GenesisApplied reports whether the ledger was already seeded.
func (tx *Tx) GenesisApplied() (bool, error) {
	_, err := tx.Get(genesisKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// MarkGenesisApplied records that the ledger was seeded at genesisTime.
func (tx *Tx) MarkGenesisApplied(genesisTime time.Time) error {
	var ts uint64
	if unix := genesisTime.Unix(); !genesisTime.IsZero() && unix > 0 {
		ts = uint64(unix)
	}
	return tx.putRLP(genesisKey, ts)
}
