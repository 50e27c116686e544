package domain

// Asset is one real-world asset known to the platform. Assets must be
// approved before they can back a pool, and an asset may be committed
// to at most one DRAFT/LAUNCHING/ACTIVE pool at a time.
type Asset struct {
	AssetID    string // PRIMARY KEY
	Name       string
	Value      float64
	IsApproved bool
	CreatedAt  int64 // record creation timestamp (ms)
}
