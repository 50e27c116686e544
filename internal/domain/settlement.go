package domain

// SettlementStatus is the state of one external settlement attempt.
type SettlementStatus string

// Settlement journal states. The ledger is the source of truth for
// ownership; settlement is an eventually consistent side effect, so a
// FAILED entry never rolls back the ledger mutation it belongs to.
const (
	SettlementStatusPending SettlementStatus = "PENDING"
	SettlementStatusSettled SettlementStatus = "SETTLED"
	SettlementStatusFailed  SettlementStatus = "FAILED"
)

// SettlementOperation classifies the gateway call being journaled.
type SettlementOperation string

// Settlement operation kinds.
const (
	SettlementOpMint             SettlementOperation = "MINT_TOKEN"
	SettlementOpTokenTransfer    SettlementOperation = "TRANSFER_TOKEN"
	SettlementOpCurrencyTransfer SettlementOperation = "TRANSFER_CURRENCY"
)

// SettlementEntry is one journaled settlement side effect.
// Corresponds to settlement_journal table in PostgreSQL.
type SettlementEntry struct {
	EntryID     string // PRIMARY KEY, uuid
	PoolID      string
	Operation   SettlementOperation
	TokenRef    string // external token reference, empty for mint until settled
	FromAddress string
	ToAddress   string
	Amount      float64 // settlement currency amount
	Tokens      int64   // token amount for token transfers
	TxID        string  // settlement transaction id once settled
	Status      SettlementStatus
	Attempts    int
	LastError   string
	CreatedAt   int64
	UpdatedAt   int64
}
