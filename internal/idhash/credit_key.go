package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeCreditKey computes the idempotency key for one recipient
// credit inside a distribution execute loop.
// Formula: SHA256(distribution_id|holder_address)
// A resumed Execute uses the key to skip recipients whose holding was
// already credited, so an interrupted run never double-credits.
func ComputeCreditKey(distributionID, holderAddress string) string {
	data := fmt.Sprintf("%s|%s", distributionID, holderAddress)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
