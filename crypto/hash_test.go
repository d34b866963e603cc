package crypto

import (
	"bytes"
	"crypto/sha256"
	"math/big"
	"testing"
)

func TestKeyEncoderIsUnambiguous(t *testing.T) {
	a, err := NewKeyEncoder("t").String("AB").String("C").Sum()
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	b, err := NewKeyEncoder("t").String("A").String("BC").Sum()
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if a == b {
		t.Fatalf("length-prefixed fields must not collide")
	}
}

func TestKeyEncoderDeterministic(t *testing.T) {
	var id [20]byte
	id[19] = 7
	build := func() [32]byte {
		sum, err := NewKeyEncoder("swap").Identity(id).Amount(big.NewInt(42)).Uint64(9).Sum()
		if err != nil {
			t.Fatalf("sum: %v", err)
		}
		return sum
	}
	if build() != build() {
		t.Fatalf("expected deterministic digest")
	}
}

func TestKeyEncoderRejectsOversizedAmounts(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := NewKeyEncoder("t").Amount(huge).Sum(); err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, err := NewKeyEncoder("t").Amount(big.NewInt(-1)).Sum(); err == nil {
		t.Fatalf("expected negative amount error")
	}
	if FitsUint256(huge) {
		t.Fatalf("2^256 must not fit")
	}
}

func TestKeyEncoderAmountWidth(t *testing.T) {
	encoded, err := NewKeyEncoder("").Amount(big.NewInt(1)).Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	// 2-byte empty domain prefix followed by a 32-byte word.
	if len(encoded) != 34 || encoded[33] != 1 || !bytes.Equal(encoded[2:33], make([]byte, 31)) {
		t.Fatalf("unexpected encoding %x", encoded)
	}
}

func TestHashSecretIsSHA256(t *testing.T) {
	secret := []byte("open sesame")
	if HashSecret(secret) != sha256.Sum256(secret) {
		t.Fatalf("hashlock must be sha256 of the secret")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	var id [20]byte
	for i := range id {
		id[i] = byte(i + 1)
	}
	rendered := FormatIdentity(id)
	parsed, err := ParseIdentity(rendered)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch")
	}
	hexParsed, err := ParseIdentity("0x0102030405060708090a0b0c0d0e0f1011121314")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if hexParsed != id {
		t.Fatalf("hex identity mismatch")
	}
	if _, err := ParseIdentity("0x01"); err == nil {
		t.Fatalf("expected short hex to fail")
	}
}

func TestModuleAddressDistinct(t *testing.T) {
	if ModuleAddress("htlc") == ModuleAddress("router") {
		t.Fatalf("module vaults must differ")
	}
	if ModuleAddress("HTLC") != ModuleAddress("htlc") {
		t.Fatalf("module names are case-insensitive")
	}
}
