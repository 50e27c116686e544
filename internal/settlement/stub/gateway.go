// Package stub provides an in-memory settlement gateway for tests and
// local development.
package stub

import (
	"context"
	"fmt"
	"sync"
)

// Gateway implements settlement.Gateway with deterministic references
// and programmable failures.
type Gateway struct {
	mu sync.Mutex

	// FailMint, FailTokenTransfer and FailCurrencyTransfer make the
	// corresponding call return an error.
	FailMint             bool
	FailTokenTransfer    bool
	FailCurrencyTransfer bool

	// OperatorAccount is returned by GetOperatorAccount.
	OperatorAccount string

	mintCount     int
	transferCount int

	// Mints records poolID -> tokenRef for every successful mint.
	Mints map[string]string
}

// NewGateway creates a stub gateway.
func NewGateway() *Gateway {
	return &Gateway{
		OperatorAccount: "stub-operator",
		Mints:           make(map[string]string),
	}
}

// MintToken returns a deterministic token reference per pool.
func (g *Gateway) MintToken(_ context.Context, poolID string, supply int64, treasury string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailMint {
		return "", fmt.Errorf("stub: mint failure")
	}

	g.mintCount++
	ref := fmt.Sprintf("token-%s", poolID)
	g.Mints[poolID] = ref
	return ref, nil
}

// TransferToken returns a sequential transaction id.
func (g *Gateway) TransferToken(_ context.Context, tokenRef, from, to string, amount int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailTokenTransfer {
		return "", fmt.Errorf("stub: token transfer failure")
	}

	g.transferCount++
	return fmt.Sprintf("settle-tx-%d", g.transferCount), nil
}

// TransferSettlementCurrency returns a sequential transaction id.
func (g *Gateway) TransferSettlementCurrency(_ context.Context, to string, amount float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailCurrencyTransfer {
		return "", fmt.Errorf("stub: currency transfer failure")
	}

	g.transferCount++
	return fmt.Sprintf("settle-tx-%d", g.transferCount), nil
}

// GetOperatorAccount returns the configured operator account.
func (g *Gateway) GetOperatorAccount(context.Context) (string, error) {
	return g.OperatorAccount, nil
}

// MintCount returns the number of successful mints.
func (g *Gateway) MintCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mintCount
}

// TransferCount returns the number of successful transfers.
func (g *Gateway) TransferCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transferCount
}
