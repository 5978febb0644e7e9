package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// AccountPrefix tags payer, creator, platform and referrer identities.
	AccountPrefix AddressPrefix = "cp"
	// AssetPrefix tags token mints and holding accounts.
	AssetPrefix AddressPrefix = "cpa"
)

// Address represents a 20-byte identity with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(b))
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}, nil
}

// MustNewAddress is NewAddress for callers holding a fixed-size array.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// Array returns the address as a fixed-size array.
func (a Address) Array() [20]byte {
	var out [20]byte
	copy(out[:], a.bytes)
	return out
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ParseAccount decodes a bech32 string and checks its prefix.
func ParseAccount(addrStr string, prefix AddressPrefix) ([20]byte, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return [20]byte{}, err
	}
	if addr.Prefix() != prefix {
		return [20]byte{}, fmt.Errorf("unexpected address prefix %q, want %q", addr.Prefix(), prefix)
	}
	return addr.Array(), nil
}

// FormatAccount renders a raw identity as a bech32 account address.
func FormatAccount(b [20]byte) string {
	return MustNewAddress(AccountPrefix, b[:]).String()
}

// FormatAsset renders a raw mint or holding identity as a bech32 asset address.
func FormatAsset(b [20]byte) string {
	return MustNewAddress(AssetPrefix, b[:]).String()
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return MustNewAddress(AccountPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Sign produces a 65-byte recoverable secp256k1 signature over digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(digest, k.PrivateKey)
}

// RecoverAddress returns the account that produced sig over digest.
func RecoverAddress(digest, sig []byte) ([20]byte, error) {
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return [20]byte{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	var out [20]byte
	copy(out[:], crypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}

// Authorization is the payer's consent for one purchase: the amount, the
// asset and every recipient and rate that decides where the funds go. It is
// checked by the caller that fronts the settlement engine; the engine itself
// only sees already-authorized requests.
type Authorization struct {
	Payer          [20]byte
	Creator        [20]byte
	Platform       [20]byte
	Referrer       *[20]byte
	ContentID      string
	PurchaseID     string
	Amount         uint64
	FeeBps         uint16
	ReferrerFeeBps uint16
	Mint           *[20]byte
	SourceHolding  *[20]byte
}

// Digest returns the keccak256 hash of the canonical authorization encoding.
// Fields are written in a fixed order; optional identities are prefixed with
// a 0/1 presence flag.
func (a Authorization) Digest() []byte {
	buf := make([]byte, 0, 192+len(a.ContentID)+len(a.PurchaseID))
	buf = append(buf, "contentpay/purchase/v2"...)
	buf = append(buf, a.Payer[:]...)
	buf = append(buf, a.Creator[:]...)
	buf = append(buf, a.Platform[:]...)
	buf = appendOptional(buf, a.Referrer)
	buf = appendString(buf, a.ContentID)
	buf = appendString(buf, a.PurchaseID)
	buf = binary.BigEndian.AppendUint64(buf, a.Amount)
	buf = binary.BigEndian.AppendUint16(buf, a.FeeBps)
	buf = binary.BigEndian.AppendUint16(buf, a.ReferrerFeeBps)
	buf = appendOptional(buf, a.Mint)
	buf = appendOptional(buf, a.SourceHolding)
	return crypto.Keccak256(buf)
}

// Verify checks that sig was produced by the payer over the authorization.
func (a Authorization) Verify(sig []byte) error {
	signer, err := RecoverAddress(a.Digest(), sig)
	if err != nil {
		return err
	}
	if signer != a.Payer {
		return errors.New("crypto: authorization not signed by payer")
	}
	return nil
}

func appendOptional(buf []byte, id *[20]byte) []byte {
	if id == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, id[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
