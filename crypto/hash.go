package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func (a Address) addressCommon() common.Address { return common.BytesToAddress(a.bytes[:]) }

// Keccak256 hashes the concatenation of the supplied byte slices.
func Keccak256(data ...[]byte) [32]byte {
	return ethcrypto.Keccak256Hash(data...)
}

// HashSecret returns the hashlock committing to the supplied secret. SHA-256
// is used so the same commitment can be enforced by Bitcoin-style HTLC
// scripts on the counterparty chain.
func HashSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// ModuleAddress derives the custody identity owned by a protocol module.
func ModuleAddress(module string) [20]byte {
	digest := Keccak256([]byte("swapcore/vault/"), []byte(strings.ToLower(strings.TrimSpace(module))))
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}

// KeyEncoder builds a canonical, unambiguous byte encoding of a parameter
// tuple. Fixed-width fields are written verbatim, strings are length
// prefixed and amounts are encoded as 32-byte big-endian words.
type KeyEncoder struct {
	buf []byte
	err error
}

// NewKeyEncoder starts an encoding under the supplied domain tag.
func NewKeyEncoder(domain string) *KeyEncoder {
	enc := &KeyEncoder{}
	return enc.String(domain)
}

// Identity appends a 20-byte identity.
func (e *KeyEncoder) Identity(id [20]byte) *KeyEncoder {
	e.buf = append(e.buf, id[:]...)
	return e
}

// String appends a length-prefixed string.
func (e *KeyEncoder) String(s string) *KeyEncoder {
	if len(s) > 0xFFFF {
		e.fail(fmt.Errorf("key field too long: %d bytes", len(s)))
		return e
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	e.buf = append(e.buf, n[:]...)
	e.buf = append(e.buf, s...)
	return e
}

// Amount appends a non-negative integer as a 32-byte word.
func (e *KeyEncoder) Amount(v *big.Int) *KeyEncoder {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 {
		e.fail(fmt.Errorf("negative amount in key"))
		return e
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		e.fail(fmt.Errorf("amount exceeds 256 bits"))
		return e
	}
	b := word.Bytes32()
	e.buf = append(e.buf, b[:]...)
	return e
}

// Hash32 appends a 32-byte digest.
func (e *KeyEncoder) Hash32(h [32]byte) *KeyEncoder {
	e.buf = append(e.buf, h[:]...)
	return e
}

// Uint64 appends a big-endian unsigned integer.
func (e *KeyEncoder) Uint64(v uint64) *KeyEncoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// Int64 appends a big-endian signed integer.
func (e *KeyEncoder) Int64(v int64) *KeyEncoder {
	return e.Uint64(uint64(v))
}

// Bytes returns the encoded tuple.
func (e *KeyEncoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return append([]byte(nil), e.buf...), nil
}

// Sum returns the Keccak256 digest of the encoded tuple.
func (e *KeyEncoder) Sum() ([32]byte, error) {
	if e.err != nil {
		return [32]byte{}, e.err
	}
	return Keccak256(e.buf), nil
}

func (e *KeyEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// FitsUint256 reports whether the amount can be represented in a 256-bit word.
func FitsUint256(v *big.Int) bool {
	if v == nil || v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}

// HexKey renders a record key as lowercase hex without a prefix.
func HexKey(key [32]byte) string {
	return hex.EncodeToString(key[:])
}

// ParseHexKey decodes a 32-byte record key, accepting an optional 0x prefix.
func ParseHexKey(value string) ([32]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return [32]byte{}, fmt.Errorf("decode key: %w", err)
	}
	if len(decoded) != 32 {
		return [32]byte{}, fmt.Errorf("key must be 32 bytes, got %d", len(decoded))
	}
	var out [32]byte
	copy(out[:], decoded)
	return out, nil
}
