package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"lukechampine.com/blake3"

	"contentpay/core/events"
	"contentpay/storage"
)

// ErrAuditChainBroken reports an audit entry whose links or hash do not verify.
var ErrAuditChainBroken = errors.New("state: audit chain broken")

// Digest is a 32-byte blake3 hash rendered as hex in JSON.
type Digest [32]byte

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(d[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(decoded) != len(d) {
		return fmt.Errorf("digest must be %d bytes, got %d", len(d), len(decoded))
	}
	copy(d[:], decoded)
	return nil
}

// AuditEntry is one link of the append-only audit log.
type AuditEntry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	PrevHash   Digest            `json:"prevHash"`
	Hash       Digest            `json:"hash"`
}

type auditBody struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type auditHead struct {
	Sequence uint64
	Hash     [32]byte
}

func computeAuditHash(prev Digest, sequence uint64, typ string, attrs map[string]string) (Digest, error) {
	body, err := json.Marshal(auditBody{Type: typ, Attributes: attrs})
	if err != nil {
		return Digest{}, err
	}
	hasher := blake3.New(32, nil)
	hasher.Write(prev[:])
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	hasher.Write(seq[:])
	hasher.Write(body)
	var out Digest
	copy(out[:], hasher.Sum(nil))
	return out, nil
}

func (tx *Tx) appendAudit(sequence uint64, evt events.Event) error {
	rendered := events.Render(evt)
	head := new(auditHead)
	if _, err := getRLP(tx, auditHeadKey, head); err != nil {
		return err
	}
	if head.Sequence >= sequence {
		return fmt.Errorf("state: audit sequence %d not after head %d", sequence, head.Sequence)
	}
	entry := AuditEntry{
		Sequence:   sequence,
		Type:       rendered.Type,
		Attributes: rendered.Attributes,
		PrevHash:   Digest(head.Hash),
	}
	if entry.Attributes == nil {
		entry.Attributes = map[string]string{}
	}
	hash, err := computeAuditHash(entry.PrevHash, sequence, entry.Type, entry.Attributes)
	if err != nil {
		return err
	}
	entry.Hash = hash
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tx.put(auditKey(sequence), encoded)
	return tx.putRLP(auditHeadKey, &auditHead{Sequence: sequence, Hash: hash})
}

// AuditEntry returns the audit entry recorded under sequence.
func (m *Manager) AuditEntry(sequence uint64) (*AuditEntry, bool, error) {
	raw, err := m.db.Get(auditKey(sequence))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	entry := new(AuditEntry)
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, false, fmt.Errorf("state: decode audit entry %d: %w", sequence, err)
	}
	return entry, true, nil
}

// VerifyAuditLog walks the audit log from the first entry and checks every
// hash and back link. It returns the number of verified entries; on failure
// the error wraps ErrAuditChainBroken and names the first bad sequence.
func (m *Manager) VerifyAuditLog() (uint64, error) {
	var (
		prev     Digest
		last     uint64
		verified uint64
		failure  error
	)
	err := m.db.Iterate(auditPrefix, func(key, value []byte) bool {
		var entry AuditEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			failure = fmt.Errorf("%w: undecodable entry %x: %v", ErrAuditChainBroken, key, err)
			return false
		}
		if entry.Sequence <= last && verified > 0 {
			failure = fmt.Errorf("%w: sequence %d out of order", ErrAuditChainBroken, entry.Sequence)
			return false
		}
		if entry.PrevHash != prev {
			failure = fmt.Errorf("%w: sequence %d does not link to its predecessor", ErrAuditChainBroken, entry.Sequence)
			return false
		}
		want, err := computeAuditHash(entry.PrevHash, entry.Sequence, entry.Type, entry.Attributes)
		if err != nil {
			failure = err
			return false
		}
		if want != entry.Hash {
			failure = fmt.Errorf("%w: sequence %d hash mismatch", ErrAuditChainBroken, entry.Sequence)
			return false
		}
		prev = entry.Hash
		last = entry.Sequence
		verified++
		return true
	})
	if err != nil {
		return verified, err
	}
	if failure != nil {
		return verified, failure
	}
	head := new(auditHead)
	if _, err := getRLP(m.db, auditHeadKey, head); err != nil {
		return verified, err
	}
	if head.Sequence != last || Digest(head.Hash) != prev {
		return verified, fmt.Errorf("%w: head %d does not match last entry %d", ErrAuditChainBroken, head.Sequence, last)
	}
	return verified, nil
}
