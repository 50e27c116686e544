// Package settlement integrates the ledger with the external settlement
// gateway that performs actual token and currency movement. Every
// gateway side effect is journaled PENDING before the call and marked
// SETTLED or FAILED afterwards; a failed call never rolls back the
// ledger mutation it belongs to. The reconciler retries failed
// transfers in the background.
package settlement

import "context"

// Gateway is the core-facing interface to the external settlement
// service. Implementations must honor context deadlines; calls may
// block for an external-network round trip.
type Gateway interface {
	// MintToken mints the fixed token supply for a pool into the
	// treasury account and returns the external token reference.
	MintToken(ctx context.Context, poolID string, supply int64, treasury string) (string, error)

	// TransferToken moves tokens between two accounts on the external
	// ledger and returns the settlement transaction id.
	TransferToken(ctx context.Context, tokenRef, from, to string, amount int64) (string, error)

	// TransferSettlementCurrency moves settlement currency to an account
	// and returns the settlement transaction id.
	TransferSettlementCurrency(ctx context.Context, to string, amount float64) (string, error)

	// GetOperatorAccount returns the platform operator account reference.
	GetOperatorAccount(ctx context.Context) (string, error)
}
