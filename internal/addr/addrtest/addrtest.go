// Package addrtest generates deterministic valid ledger addresses for
// tests.
package addrtest

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Address returns a deterministic valid address derived from seed.
// Different seeds yield different addresses.
func Address(seed byte) string {
	var buf [64]byte
	buf[0] = seed
	buf[1] = 1

	scalar, err := edwards25519.NewScalar().SetUniformBytes(buf[:])
	if err != nil {
		panic(err)
	}
	point := new(edwards25519.Point).ScalarBaseMult(scalar)
	return base58.Encode(point.Bytes())
}
