package domain

// TransferType classifies a token movement in a holding's history.
type TransferType string

// Transfer type constants.
const (
	TransferTypeInvestment TransferType = "INVESTMENT"
	TransferTypeP2P        TransferType = "TRANSFER"
)

// TokenTransfer is an immutable history entry for a token movement.
// Peer-to-peer transfers append one identical entry to both the sender
// and receiver holdings.
type TokenTransfer struct {
	TransferID    string // deterministic hash, see idhash
	PoolID        string
	FromAddress   string // empty for investments (treasury side)
	ToAddress     string
	Tokens        int64
	PricePerToken float64
	Type          TransferType
	Timestamp     int64 // Unix timestamp in milliseconds
}

// DividendRecord is a holding-side bookkeeping entry for a dividend
// credit. It is derived from the DividendDistribution entity, which
// remains the single source of truth for claim state.
type DividendRecord struct {
	DistributionID string
	Amount         float64
	CreditedAt     int64
	ClaimedAt      *int64 // nil until claimed
}

// StakingStatus is the state of one staking record.
type StakingStatus string

// Staking record states. REWARDS_CLAIMED is reserved for a future
// reward-computation step and is never produced today.
const (
	StakingStatusActive         StakingStatus = "ACTIVE"
	StakingStatusUnstaked       StakingStatus = "UNSTAKED"
	StakingStatusRewardsClaimed StakingStatus = "REWARDS_CLAIMED"
)

// StakingRecord tracks one lock of tokens inside a holding.
type StakingRecord struct {
	StakingID  string
	Amount     int64
	Status     StakingStatus
	StakedAt   int64
	UnstakedAt *int64
}

// Holding is one investor's running balance sheet for a pool.
// Corresponds to holdings table in PostgreSQL, keyed (holder_address, pool_id).
// Invariant: TotalTokens == AvailableTokens + LockedTokens at all times.
type Holding struct {
	HolderAddress string
	PoolID        string

	TotalTokens     int64
	AvailableTokens int64
	LockedTokens    int64

	TotalInvested   float64 // cost basis: investments plus incoming transfers at market price
	AverageBuyPrice float64 // value-weighted cost basis
	CurrentValue    float64 // TotalTokens * pool current price
	UnrealizedPnL   float64 // CurrentValue - TotalInvested
	RealizedPnL     float64
	ROI             float64 // total PnL / TotalInvested * 100

	TotalDividendsReceived  float64
	TotalDividendsClaimed   float64
	TotalDividendsUnclaimed float64

	Transfers      []TokenTransfer
	Dividends      []DividendRecord
	StakingRecords []StakingRecord

	FirstInvestedAt int64 // ms; dividend record-date eligibility cutoff
	IsActive        bool  // false once balance and activity reach zero
	CreatedAt       int64
	UpdatedAt       int64
	Version         int64 // optimistic concurrency sequence
}

// ActiveStakingRecord returns the ACTIVE staking record with the given
// id, or nil.
func (h *Holding) ActiveStakingRecord(stakingID string) *StakingRecord {
	for i := range h.StakingRecords {
		r := &h.StakingRecords[i]
		if r.StakingID == stakingID && r.Status == StakingStatusActive {
			return r
		}
	}
	return nil
}

// TotalPnL returns realized plus unrealized profit and loss.
func (h *Holding) TotalPnL() float64 {
	return h.UnrealizedPnL + h.RealizedPnL
}
