package domain

// LedgerEventType classifies one entry in the analytics event journal.
type LedgerEventType string

// Ledger event types.
const (
	EventPoolLaunched   LedgerEventType = "POOL_LAUNCHED"
	EventPoolClosed     LedgerEventType = "POOL_CLOSED"
	EventInvestment     LedgerEventType = "INVESTMENT"
	EventTransfer       LedgerEventType = "TRANSFER"
	EventDividendCredit LedgerEventType = "DIVIDEND_CREDIT"
	EventDividendClaim  LedgerEventType = "DIVIDEND_CLAIM"
	EventStake          LedgerEventType = "STAKE"
	EventUnstake        LedgerEventType = "UNSTAKE"
)

// LedgerEvent is an append-only analytics record of a ledger mutation.
// Corresponds to ledger_events table in ClickHouse. Events are
// best-effort: a failed append never fails the operation it describes.
type LedgerEvent struct {
	EventID      string
	PoolID       string
	HolderAddr   string
	Counterparty string // opposite side for transfers, empty otherwise
	Type         LedgerEventType
	Tokens       int64
	Amount       float64
	Timestamp    int64 // Unix timestamp in milliseconds
}
