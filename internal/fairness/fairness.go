// Package fairness implements the commit/reveal primitives of a round: a
// random 32-byte secret, its Keccak-256 commitment, and verification of a
// revealed secret against a published commitment.
//
// The commitment must match what the contract computes for
// keccak256(abi.encodePacked(bytes32 secret)), so it is always taken over
// the 32 raw bytes and never over the hex text.
package fairness

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const SeedSize = 32

var (
	ErrInvalidSeed = errors.New("seed must be 0x-prefixed 32-byte hex")
	ErrInvalidHash = errors.New("hash must be 0x-prefixed 32-byte hex")
)

// Seed is a bytes32 value: the server seed (secret) or the client seed.
type Seed [SeedSize]byte

// Hash is a Keccak-256 digest.
type Hash [32]byte

func (s Seed) String() string { return "0x" + hex.EncodeToString(s[:]) }

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (s Seed) IsZero() bool { return s == Seed{} }

func (h Hash) IsZero() bool { return h == Hash{} }

// GenerateSeed returns 32 bytes from the operating system CSPRNG. There is
// no lower-quality fallback: a failing entropy source is an error.
func GenerateSeed() (Seed, error) {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return Seed{}, fmt.Errorf("failed to generate seed: %w", err)
	}
	return s, nil
}

// ParseSeed accepts the hex form with or without the 0x prefix.
func ParseSeed(v string) (Seed, error) {
	var s Seed
	if err := decode32(v, s[:]); err != nil {
		return Seed{}, ErrInvalidSeed
	}
	return s, nil
}

func ParseHash(v string) (Hash, error) {
	var h Hash
	if err := decode32(v, h[:]); err != nil {
		return Hash{}, ErrInvalidHash
	}
	return h, nil
}

// IsSeedHex reports whether v is exactly 0x followed by 64 hex digits.
func IsSeedHex(v string) bool {
	if len(v) != 2+2*SeedSize || !strings.HasPrefix(v, "0x") {
		return false
	}
	_, err := hex.DecodeString(v[2:])
	return err == nil
}

// Commit returns keccak256(secret).
func Commit(secret Seed) Hash {
	var h Hash
	d := sha3.NewLegacyKeccak256()
	d.Write(secret[:])
	d.Sum(h[:0])
	return h
}

// Verify reports whether secret hashes to expected. The comparison is
// case-insensitive and tolerates a missing 0x prefix on either side.
func Verify(secret, expected string) bool {
	s, err := ParseSeed(secret)
	if err != nil {
		return false
	}
	h, err := ParseHash(expected)
	if err != nil {
		return false
	}
	return Commit(s) == h
}

// VerifySeed is Verify for already parsed values.
func VerifySeed(secret Seed, expected Hash) bool {
	return Commit(secret) == expected
}

func decode32(v string, dst []byte) error {
	v = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(v), "0x"), "0X")
	if len(v) != 2*len(dst) {
		return fmt.Errorf("want %d hex digits, got %d", 2*len(dst), len(v))
	}
	_, err := hex.Decode(dst, []byte(v))
	return err
}
