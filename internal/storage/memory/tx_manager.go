package memory

import (
	"context"
	"sync"

	"rwa-pool-ledger/internal/storage"
)

// Snapshotter is implemented by the memory stores. Snapshot captures
// the store contents and returns a function that restores them.
type Snapshotter interface {
	Snapshot() (restore func())
}

// TxManager is the in-memory stand-in for a storage transaction. It
// serializes multi-entity operations under one mutex and snapshots the
// registered stores before running the body, so a failed body rolls the
// stores back like a real transaction would. Without the rollback a
// version conflict mid-body would leave the earlier writes committed,
// and the service retry would apply them a second time.
type TxManager struct {
	mu     sync.Mutex
	stores []Snapshotter
}

// NewTxManager creates a serializing transaction manager over the
// given stores.
func NewTxManager(stores ...Snapshotter) *TxManager {
	return &TxManager{stores: stores}
}

// InTx runs fn while holding the manager's mutex. When fn errors, the
// registered stores are restored to their pre-transaction state.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	restores := make([]func(), len(m.stores))
	for i, s := range m.stores {
		restores[i] = s.Snapshot()
	}

	err := fn(ctx)
	if err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}
	return err
}

// Verify interface compliance at compile time.
var _ storage.TxManager = (*TxManager)(nil)
