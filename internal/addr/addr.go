// Package addr validates and derives ledger addresses. Addresses are
// base58-encoded 32-byte ed25519 public keys, matching the settlement
// network's account format.
package addr

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Validate checks that s decodes to a 32-byte key on the ed25519 curve.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("empty address")
	}

	decoded, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("address must decode to 32 bytes, got %d", len(decoded))
	}

	if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
		return fmt.Errorf("address is not a valid curve point: %w", err)
	}
	return nil
}

// Encode returns the base58 address for a raw 32-byte public key.
func Encode(pubkey []byte) (string, error) {
	if len(pubkey) != 32 {
		return "", fmt.Errorf("pubkey must be 32 bytes, got %d", len(pubkey))
	}
	return base58.Encode(pubkey), nil
}
