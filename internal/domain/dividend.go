package domain

// DistributionStatus is the lifecycle state of a dividend distribution.
type DistributionStatus string

// Distribution lifecycle states. FAILED and COMPLETED are reserved for
// future settlement-failure and finalization handling; no operation
// produces them today.
const (
	DistributionStatusPending      DistributionStatus = "PENDING"
	DistributionStatusDistributing DistributionStatus = "DISTRIBUTING"
	DistributionStatusDistributed  DistributionStatus = "DISTRIBUTED"
	DistributionStatusCancelled    DistributionStatus = "CANCELLED"
	DistributionStatusFailed       DistributionStatus = "FAILED"
	DistributionStatusCompleted    DistributionStatus = "COMPLETED"
)

// distributionTransitions enumerates the permitted forward edges of the
// distribution state machine. DISTRIBUTED and CANCELLED are terminal.
var distributionTransitions = map[DistributionStatus][]DistributionStatus{
	DistributionStatusPending:      {DistributionStatusDistributing, DistributionStatusCancelled},
	DistributionStatusDistributing: {DistributionStatusDistributed},
}

// CanTransitionTo reports whether the status may move to next.
func (s DistributionStatus) CanTransitionTo(next DistributionStatus) bool {
	for _, allowed := range distributionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DividendRecipient is one holder's computed share within a
// distribution. Snapshot fields are immutable once created; only the
// claim fields change.
type DividendRecipient struct {
	HolderAddress  string
	TokenAmount    int64   // tokens held at record date
	DividendAmount float64 // TokenAmount * per-token rate
	CreditKey      string  // idempotency key for the execute credit loop
	Credited       bool    // holding credit applied during Execute
	IsClaimed      bool
	ClaimedAt      *int64
}

// AuditEntry is one append-only line in a distribution's audit trail.
type AuditEntry struct {
	Action      string
	PerformedBy string
	Timestamp   int64 // Unix timestamp in milliseconds
}

// DividendDistribution is one dividend-payment event for a pool,
// snapshotting eligible holders at a record date.
// Corresponds to dividend_distributions table in PostgreSQL.
// Invariant: TotalClaimed + TotalUnclaimed == TotalDividendAmount
// within rounding tolerance.
type DividendDistribution struct {
	DistributionID      string // PRIMARY KEY, uuid
	PoolID              string
	Status              DistributionStatus
	TotalDividendAmount float64
	PerTokenRate        float64
	TotalTokensEligible int64
	RecordDate          int64 // snapshot cutoff (ms)
	DistributionDate    int64 // earliest execute time (ms)
	Recipients          []DividendRecipient
	TotalClaimed        float64
	TotalUnclaimed      float64
	AuditTrail          []AuditEntry
	CreatedBy           string
	CreatedAt           int64
	UpdatedAt           int64
	Version             int64 // optimistic concurrency sequence
}

// FindRecipient returns the recipient entry for a holder, or nil.
func (d *DividendDistribution) FindRecipient(holderAddress string) *DividendRecipient {
	for i := range d.Recipients {
		if d.Recipients[i].HolderAddress == holderAddress {
			return &d.Recipients[i]
		}
	}
	return nil
}
