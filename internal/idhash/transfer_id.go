package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTransferID computes a deterministic transfer_id using SHA256.
// Formula: SHA256(pool_id|from|to|tokens|timestamp)
// Returns hex-encoded hash (64 characters). The same ID is written to
// both sides of a peer-to-peer transfer.
func ComputeTransferID(
	poolID string,
	fromAddress string,
	toAddress string,
	tokens int64,
	timestamp int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d",
		poolID,
		fromAddress,
		toAddress,
		tokens,
		timestamp,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
