// Package wallet validates EVM addresses and recovers the signer of an
// EIP-191 personal_sign message.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signature does not match address")
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

func IsAddress(addr string) bool {
	return addressRe.MatchString(addr)
}

// Normalize lowercases a valid address.
func Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !IsAddress(addr) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(addr), nil
}

// Truncate renders 0x1234...abcd.
func Truncate(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// PersonalSignHash is keccak256("\x19Ethereum Signed Message:\n" + len + msg).
func PersonalSignHash(message string) []byte {
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message))))
	d.Write([]byte(message))
	return d.Sum(nil)
}

// RecoverAddress returns the lowercase address that produced sig over the
// personal_sign hash of message. sig is r || s || v with v in {0,1,27,28}.
func RecoverAddress(message, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return "", ErrInvalidSignature
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", ErrInvalidSignature
	}

	// decred's compact form is [27 + recid] || r || s for uncompressed keys.
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, PersonalSignHash(message))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	d := sha3.NewLegacyKeccak256()
	d.Write(pub.SerializeUncompressed()[1:])
	return "0x" + hex.EncodeToString(d.Sum(nil)[12:]), nil
}

// VerifySigner checks that address signed message.
func VerifySigner(address, message, sigHex string) error {
	addr, err := Normalize(address)
	if err != nil {
		return err
	}
	recovered, err := RecoverAddress(message, sigHex)
	if err != nil {
		return err
	}
	if recovered != addr {
		return ErrSignerMismatch
	}
	return nil
}
