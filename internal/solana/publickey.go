// Package solana implements the Solana pieces of the payment flow: public keys,
// Solana Pay transfer requests, JSON-RPC access and transaction inspection.
package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of an ed25519 public key.
const PublicKeyLength = 32

// PublicKey is a 32 byte account address.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("invalid base58 public key %q: %w", s, err)
	}
	if len(raw) != PublicKeyLength {
		return pk, fmt.Errorf("invalid public key length %d for %q", len(raw), s)
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPublicKey panics on invalid input; for constants only.
func MustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// String encodes the key in base58.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether the key is all zeroes.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// ValidAddress reports whether s decodes to a 32 byte key.
func ValidAddress(s string) bool {
	_, err := ParsePublicKey(s)
	return err == nil
}

// NewReference returns the public key of a fresh keypair. The private key is
// discarded: the reference only has to be unique and unowned.
func NewReference() (PublicKey, error) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, fmt.Errorf("generate reference: %w", err)
	}
	var pk PublicKey
	copy(pk[:], pub)
	return pk, nil
}
