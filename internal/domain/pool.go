package domain

// PoolStatus is the lifecycle state of an asset pool.
type PoolStatus string

// Pool lifecycle states.
//
// DRAFT -> LAUNCHING -> ACTIVE -> CLOSED. LAUNCHING is the persisted
// mint-in-progress marker: it is written before the settlement gateway
// mint call so a crashed or failed launch cannot trigger a second mint.
const (
	PoolStatusDraft     PoolStatus = "DRAFT"
	PoolStatusLaunching PoolStatus = "LAUNCHING"
	PoolStatusActive    PoolStatus = "ACTIVE"
	PoolStatusClosed    PoolStatus = "CLOSED"
	PoolStatusMatured   PoolStatus = "MATURED"
	PoolStatusSuspended PoolStatus = "SUSPENDED"
)

// PoolAsset is one real-world asset locked into a pool.
type PoolAsset struct {
	AssetID    string  // FK to the asset registry
	Value      float64 // declared asset value
	Percentage float64 // share of pool total value
}

// Investment is one investor's cumulative position inside a pool.
// Amounts and tokens are additive across contributions; the record is
// never removed, only deactivated.
type Investment struct {
	InvestorAddress string
	Amount          float64 // cumulative invested amount
	Tokens          int64   // cumulative tokens bought
	TokenPrice      float64 // price at first buy
	FirstInvestedAt int64   // Unix timestamp in milliseconds
	UpdatedAt       int64
	IsActive        bool
}

// Pool represents a tokenized pool of real-world assets.
// Corresponds to pools table in PostgreSQL.
type Pool struct {
	PoolID            string // PRIMARY KEY, uuid
	Name              string
	Status            PoolStatus
	Assets            []PoolAsset
	Investments       []Investment
	TotalValue        float64 // Σ assets[i].Value at creation
	TokenSupply       int64   // fixed supply minted at launch
	TokenPrice        float64 // issue price per token
	MinimumInvestment float64
	CurrentPrice      float64 // market price used for revaluation
	TotalInvested     float64 // Σ active Investment.Amount
	TotalInvestors    int64   // count of distinct active investors
	ExternalTokenRef  string  // opaque handle from the settlement gateway
	TreasuryAddress   string  // address holding the unsold supply
	CreatedBy         string  // operator address
	CreatedAt         int64   // record creation timestamp (ms)
	UpdatedAt         int64
	Version           int64 // optimistic concurrency sequence
}

// FindInvestment returns the investment record for an investor, or nil.
func (p *Pool) FindInvestment(investorAddress string) *Investment {
	for i := range p.Investments {
		if p.Investments[i].InvestorAddress == investorAddress {
			return &p.Investments[i]
		}
	}
	return nil
}

// TokensSold returns the total tokens currently owed to investors.
func (p *Pool) TokensSold() int64 {
	var total int64
	for i := range p.Investments {
		if p.Investments[i].IsActive {
			total += p.Investments[i].Tokens
		}
	}
	return total
}
