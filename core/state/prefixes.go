package state

import "encoding/binary"

var (
	accountPrefix   = []byte("ledger/account/")
	mintPrefix      = []byte("ledger/mint/")
	holdingPrefix   = []byte("ledger/holding/")
	auditPrefix     = []byte("audit/entry/")
	auditHeadKey    = []byte("audit/head")
	sequenceHeadKey = []byte("settlement/sequence")
	genesisKey      = []byte("genesis/applied")
)

func prefixed(prefix []byte, id [20]byte) []byte {
	key := make([]byte, len(prefix)+len(id))
	copy(key, prefix)
	copy(key[len(prefix):], id[:])
	return key
}

func accountKey(addr [20]byte) []byte { return prefixed(accountPrefix, addr) }

func mintKey(id [20]byte) []byte { return prefixed(mintPrefix, id) }

func holdingKey(addr [20]byte) []byte { return prefixed(holdingPrefix, addr) }

// auditKey encodes the sequence big-endian so prefix iteration walks the log
// in order.
func auditKey(sequence uint64) []byte {
	key := make([]byte, len(auditPrefix)+8)
	copy(key, auditPrefix)
	binary.BigEndian.PutUint64(key[len(auditPrefix):], sequence)
	return key
}
