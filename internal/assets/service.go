// Package assets validates the real-world assets backing a pool: an
// asset must exist in the catalog, be approved, carry a positive value,
// and not be committed to another draft or active pool.
package assets

import (
	"context"
	"math"
	"sync"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/storage"
)

// CompositionTolerance is the allowed absolute difference between a
// pool's declared total value and the sum of its asset values.
const CompositionTolerance = 0.01

// Validator checks asset eligibility for pool composition.
type Validator interface {
	// IsApproved reports whether the asset exists and is approved.
	IsApproved(ctx context.Context, assetID string) (bool, error)

	// IsCommitted reports whether the asset already backs a pool whose
	// status is DRAFT, LAUNCHING or ACTIVE.
	IsCommitted(ctx context.Context, assetID string) (bool, error)
}

// Service implements Validator over an in-memory asset catalog and the
// pool store.
type Service struct {
	mu      sync.RWMutex
	catalog map[string]domain.Asset

	pools storage.PoolStore
}

// NewService creates an asset validation service.
func NewService(pools storage.PoolStore) *Service {
	return &Service{
		catalog: make(map[string]domain.Asset),
		pools:   pools,
	}
}

// Compile-time interface check.
var _ Validator = (*Service)(nil)

// RegisterAsset adds or replaces a catalog entry.
func (s *Service) RegisterAsset(a domain.Asset) error {
	if a.AssetID == "" {
		return errs.Validation("asset id is required")
	}
	if a.Value <= 0 {
		return errs.Validation("asset %s value must be positive, got %f", a.AssetID, a.Value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[a.AssetID] = a
	return nil
}

// GetAsset returns a catalog entry.
func (s *Service) GetAsset(assetID string) (domain.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.catalog[assetID]
	return a, ok
}

// IsApproved reports whether the asset exists and is approved.
func (s *Service) IsApproved(_ context.Context, assetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.catalog[assetID]
	return ok && a.IsApproved, nil
}

// committedStatuses are the pool states that hold exclusive claim on
// their assets.
var committedStatuses = []domain.PoolStatus{
	domain.PoolStatusDraft,
	domain.PoolStatusLaunching,
	domain.PoolStatusActive,
}

// IsCommitted reports whether the asset already backs a DRAFT,
// LAUNCHING or ACTIVE pool.
func (s *Service) IsCommitted(ctx context.Context, assetID string) (bool, error) {
	for _, status := range committedStatuses {
		pools, err := s.pools.ListByStatus(ctx, status)
		if err != nil {
			return false, err
		}
		for _, p := range pools {
			for _, a := range p.Assets {
				if a.AssetID == assetID {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// ValidateComposition checks a proposed pool composition: at least one
// asset, no duplicate asset IDs, positive values, and the declared
// total matching the sum of asset values within CompositionTolerance.
func ValidateComposition(poolAssets []domain.PoolAsset, totalValue float64) error {
	if len(poolAssets) == 0 {
		return errs.Validation("pool must contain at least one asset")
	}

	seen := make(map[string]struct{}, len(poolAssets))
	var sum float64
	for _, a := range poolAssets {
		if a.AssetID == "" {
			return errs.Validation("asset id is required")
		}
		if _, dup := seen[a.AssetID]; dup {
			return errs.Validation("duplicate asset %s in pool composition", a.AssetID)
		}
		seen[a.AssetID] = struct{}{}
		if a.Value <= 0 {
			return errs.Validation("asset %s value must be positive, got %f", a.AssetID, a.Value)
		}
		sum += a.Value
	}

	if math.Abs(sum-totalValue) > CompositionTolerance {
		return errs.Validation("asset values sum to %f, declared total is %f", sum, totalValue)
	}
	return nil
}

// ValidateForPool runs the full per-asset eligibility check used by
// pool creation: each asset must be approved and not committed
// elsewhere.
func ValidateForPool(ctx context.Context, v Validator, poolAssets []domain.PoolAsset) error {
	for _, a := range poolAssets {
		approved, err := v.IsApproved(ctx, a.AssetID)
		if err != nil {
			return errs.Internal("check asset approval", err)
		}
		if !approved {
			return errs.Validation("asset %s is not approved", a.AssetID)
		}

		committed, err := v.IsCommitted(ctx, a.AssetID)
		if err != nil {
			return errs.Internal("check asset commitment", err)
		}
		if committed {
			return errs.Conflict("asset %s is already committed to another pool", a.AssetID)
		}
	}
	return nil
}
