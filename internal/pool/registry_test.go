package pool

import (
	"context"
	"testing"

	"rwa-pool-ledger/internal/addr/addrtest"
	"rwa-pool-ledger/internal/assets"
	"rwa-pool-ledger/internal/auth"
	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/holdings"
	"rwa-pool-ledger/internal/settlement"
	"rwa-pool-ledger/internal/settlement/stub"
	"rwa-pool-ledger/internal/storage/memory"
)

const testNow = int64(1700000000000)

type testEnv struct {
	registry *Registry
	ledger   *holdings.Ledger
	pools    *memory.PoolStore
	holdings *memory.HoldingStore
	journal  *memory.SettlementJournalStore
	events   *memory.LedgerEventStore
	gateway  *stub.Gateway
	assets   *assets.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pools := memory.NewPoolStore()
	holdingStore := memory.NewHoldingStore()
	journal := memory.NewSettlementJournalStore()
	events := memory.NewLedgerEventStore()
	gateway := stub.NewGateway()

	now := func() int64 { return testNow }
	ledger := holdings.NewLedger(holdings.Options{
		Holdings: holdingStore,
		Pools:    pools,
		Now:      now,
	})
	recorder := settlement.NewRecorder(settlement.RecorderOptions{
		Journal: journal,
		Gateway: gateway,
		Now:     now,
	})
	assetSvc := assets.NewService(pools)

	registry := NewRegistry(Options{
		Pools:     pools,
		Ledger:    ledger,
		Assets:    assetSvc,
		Authz:     auth.AllowAll{},
		Recorder:  recorder,
		Events:    events,
		TxManager: memory.NewTxManager(pools, holdingStore, journal, events),
		Now:       now,
	})

	return &testEnv{
		registry: registry,
		ledger:   ledger,
		pools:    pools,
		holdings: holdingStore,
		journal:  journal,
		events:   events,
		gateway:  gateway,
		assets:   assetSvc,
	}
}

func (e *testEnv) registerAssets(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := e.assets.RegisterAsset(domain.Asset{AssetID: id, Name: id, Value: 1e9, IsApproved: true})
		if err != nil {
			t.Fatalf("RegisterAsset(%s): %v", id, err)
		}
	}
}

func validSpec() CreatePoolSpec {
	return CreatePoolSpec{
		Name: "Commercial Real Estate Fund",
		Assets: []domain.PoolAsset{
			{AssetID: "asset-1", Value: 600, Percentage: 60},
			{AssetID: "asset-2", Value: 400, Percentage: 40},
		},
		TotalValue:        1000,
		TokenSupply:       100000,
		TokenPrice:        10,
		MinimumInvestment: 100,
		TreasuryAddress:   addrtest.Address(1),
	}
}

// createActivePool drives a pool through create and launch.
func createActivePool(t *testing.T, env *testEnv) *domain.Pool {
	t.Helper()
	env.registerAssets(t, "asset-1", "asset-2")

	p, err := env.registry.CreatePool(context.Background(), validSpec(), "operator-1")
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	p, err = env.registry.LaunchPool(context.Background(), p.PoolID, "operator-1")
	if err != nil {
		t.Fatalf("LaunchPool: %v", err)
	}
	return p
}

func TestRegistry_CreatePool(t *testing.T) {
	env := newTestEnv(t)
	env.registerAssets(t, "asset-1", "asset-2")

	p, err := env.registry.CreatePool(context.Background(), validSpec(), "operator-1")
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	if p.Status != domain.PoolStatusDraft {
		t.Errorf("status = %s, want DRAFT", p.Status)
	}
	if p.PoolID == "" {
		t.Error("expected generated pool id")
	}
	if p.CurrentPrice != 10 {
		t.Errorf("current price = %f, want issue price 10", p.CurrentPrice)
	}
	if p.CreatedBy != "operator-1" {
		t.Errorf("created by = %s", p.CreatedBy)
	}
	// No external side effect before launch.
	if env.gateway.MintCount() != 0 {
		t.Errorf("mint count = %d, want 0", env.gateway.MintCount())
	}
}

func TestRegistry_CreatePoolValidation(t *testing.T) {
	env := newTestEnv(t)
	env.registerAssets(t, "asset-1", "asset-2")
	ctx := context.Background()

	spec := validSpec()
	spec.TotalValue = 900 // assets sum to 1000
	if _, err := env.registry.CreatePool(ctx, spec, "operator-1"); !errs.IsValidation(err) {
		t.Errorf("composition mismatch: got %v, want validation error", err)
	}

	spec = validSpec()
	spec.TokenSupply = 0
	if _, err := env.registry.CreatePool(ctx, spec, "operator-1"); !errs.IsValidation(err) {
		t.Errorf("zero supply: got %v, want validation error", err)
	}

	spec = validSpec()
	spec.TreasuryAddress = "not-an-address"
	if _, err := env.registry.CreatePool(ctx, spec, "operator-1"); !errs.IsValidation(err) {
		t.Errorf("bad treasury: got %v, want validation error", err)
	}
}

func TestRegistry_CreatePoolUnapprovedAsset(t *testing.T) {
	env := newTestEnv(t)
	env.registerAssets(t, "asset-1")
	// asset-2 exists but is not approved.
	if err := env.assets.RegisterAsset(domain.Asset{AssetID: "asset-2", Value: 400}); err != nil {
		t.Fatal(err)
	}

	_, err := env.registry.CreatePool(context.Background(), validSpec(), "operator-1")
	if !errs.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestRegistry_CreatePoolAssetExclusivity(t *testing.T) {
	env := newTestEnv(t)
	env.registerAssets(t, "asset-1", "asset-2")
	ctx := context.Background()

	if _, err := env.registry.CreatePool(ctx, validSpec(), "operator-1"); err != nil {
		t.Fatal(err)
	}

	// The same assets cannot back a second draft pool.
	_, err := env.registry.CreatePool(ctx, validSpec(), "operator-1")
	if !errs.IsConflict(err) {
		t.Errorf("got %v, want conflict error", err)
	}
}

func TestRegistry_CreatePoolUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.registerAssets(t, "asset-1", "asset-2")
	env.registry.authz = auth.NewStaticAuthorizer("operator-1")

	_, err := env.registry.CreatePool(context.Background(), validSpec(), "intruder")
	if !errs.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestRegistry_LaunchPool(t *testing.T) {
	env := newTestEnv(t)
	p := createActivePool(t, env)

	if p.Status != domain.PoolStatusActive {
		t.Errorf("status = %s, want ACTIVE", p.Status)
	}
	if p.ExternalTokenRef == "" {
		t.Error("expected external token ref after launch")
	}
	if env.gateway.MintCount() != 1 {
		t.Errorf("mint count = %d, want 1", env.gateway.MintCount())
	}

	// Launching again conflicts, with no second mint.
	_, err := env.registry.LaunchPool(context.Background(), p.PoolID, "operator-1")
	if !errs.IsConflict(err) {
		t.Errorf("relaunch: got %v, want conflict error", err)
	}
	if env.gateway.MintCount() != 1 {
		t.Errorf("mint count after relaunch = %d, want 1", env.gateway.MintCount())
	}
}

func TestRegistry_LaunchPoolMintFailure(t *testing.T) {
	env := newTestEnv(t)
	env.registerAssets(t, "asset-1", "asset-2")
	ctx := context.Background()

	p, err := env.registry.CreatePool(ctx, validSpec(), "operator-1")
	if err != nil {
		t.Fatal(err)
	}

	env.gateway.FailMint = true
	_, err = env.registry.LaunchPool(ctx, p.PoolID, "operator-1")
	if !errs.IsSettlement(err) {
		t.Fatalf("got %v, want settlement error", err)
	}

	// The pool stays LAUNCHING so the guard is persisted.
	stored, err := env.pools.GetByID(ctx, p.PoolID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.PoolStatusLaunching {
		t.Errorf("status = %s, want LAUNCHING", stored.Status)
	}

	// Retry succeeds once the gateway recovers, with exactly one mint.
	env.gateway.FailMint = false
	relaunched, err := env.registry.LaunchPool(ctx, p.PoolID, "operator-1")
	if err != nil {
		t.Fatalf("retry launch: %v", err)
	}
	if relaunched.Status != domain.PoolStatusActive {
		t.Errorf("status = %s, want ACTIVE", relaunched.Status)
	}
	if env.gateway.MintCount() != 1 {
		t.Errorf("mint count = %d, want 1", env.gateway.MintCount())
	}
}

// Scenario: assets valued 600 and 400, token price 10, investing 1000
// yields 100 tokens and matching pool aggregates.
func TestRegistry_Invest(t *testing.T) {
	env := newTestEnv(t)
	p := createActivePool(t, env)
	investor := addrtest.Address(2)
	ctx := context.Background()

	h, err := env.registry.Invest(ctx, p.PoolID, investor, 1000)
	if err != nil {
		t.Fatalf("Invest: %v", err)
	}

	if h.TotalTokens != 100 {
		t.Errorf("holding tokens = %d, want 100", h.TotalTokens)
	}

	stored, err := env.pools.GetByID(ctx, p.PoolID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.TotalInvested != 1000 {
		t.Errorf("total invested = %f, want 1000", stored.TotalInvested)
	}
	if stored.TotalInvestors != 1 {
		t.Errorf("total investors = %d, want 1", stored.TotalInvestors)
	}
	inv := stored.FindInvestment(investor)
	if inv == nil || inv.Tokens != 100 || inv.Amount != 1000 {
		t.Errorf("investment record = %+v", inv)
	}

	// Settlement transfer was attempted and journaled.
	if env.gateway.TransferCount() != 1 {
		t.Errorf("transfer count = %d, want 1", env.gateway.TransferCount())
	}
	settled, err := env.journal.ListByStatus(ctx, domain.SettlementStatusSettled)
	if err != nil {
		t.Fatal(err)
	}
	foundTransfer := false
	for _, e := range settled {
		if e.Operation == domain.SettlementOpTokenTransfer && e.Tokens == 100 {
			foundTransfer = true
		}
	}
	if !foundTransfer {
		t.Error("expected settled token transfer journal entry")
	}
}

func TestRegistry_InvestAdditive(t *testing.T) {
	env := newTestEnv(t)
	p := createActivePool(t, env)
	investor := addrtest.Address(2)
	ctx := context.Background()

	if _, err := env.registry.Invest(ctx, p.PoolID, investor, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := env.registry.Invest(ctx, p.PoolID, investor, 500); err != nil {
		t.Fatal(err)
	}

	stored, err := env.pools.GetByID(ctx, p.PoolID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.TotalInvested != 1500 {
		t.Errorf("total invested = %f, want 1500", stored.TotalInvested)
	}
	if stored.TotalInvestors != 1 {
		t.Errorf("total investors = %d, want 1 (same investor)", stored.TotalInvestors)
	}
	if len(stored.Investments) != 1 {
		t.Errorf("investment records = %d, want 1", len(stored.Investments))
	}
	if stored.Investments[0].Tokens != 150 {
		t.Errorf("cumulative tokens = %d, want 150", stored.Investments[0].Tokens)
	}
}

func TestRegistry_InvestValidation(t *testing.T) {
	env := newTestEnv(t)
	p := createActivePool(t, env)
	investor := addrtest.Address(2)
	ctx := context.Background()

	// Below minimum investment.
	if _, err := env.registry.Invest(ctx, p.PoolID, investor, 50); !errs.IsValidation(err) {
		t.Errorf("below minimum: got %v, want validation error", err)
	}

	// Amount that buys zero tokens: minimum is 100, price is 10, so use
	// a pool with a large price instead.
	env2 := newTestEnv(t)
	env2.registerAssets(t, "asset-1", "asset-2")
	spec := validSpec()
	spec.TokenPrice = 5000
	spec.MinimumInvestment = 0
	p2, err := env2.registry.CreatePool(ctx, spec, "operator-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env2.registry.LaunchPool(ctx, p2.PoolID, "operator-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env2.registry.Invest(ctx, p2.PoolID, investor, 4999); !errs.IsValidation(err) {
		t.Errorf("zero tokens: got %v, want validation error", err)
	}
	// The failed investment left no state behind.
	stored, err := env2.pools.GetByID(ctx, p2.PoolID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.TotalInvested != 0 || len(stored.Investments) != 0 {
		t.Errorf("pool mutated by failed invest: %+v", stored)
	}
	if _, err := env2.holdings.Get(ctx, investor, p2.PoolID); err == nil {
		t.Error("holding created by failed invest")
	}

	// Invalid investor address.
	if _, err := env.registry.Invest(ctx, p.PoolID, "bogus", 1000); !errs.IsValidation(err) {
		t.Errorf("bad address: got %v, want validation error", err)
	}
}

func TestRegistry_InvestRequiresActivePool(t *testing.T) {
	env := newTestEnv(t)
	env.registerAssets(t, "asset-1", "asset-2")
	ctx := context.Background()

	p, err := env.registry.CreatePool(ctx, validSpec(), "operator-1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.registry.Invest(ctx, p.PoolID, addrtest.Address(2), 1000)
	if !errs.IsConflict(err) {
		t.Errorf("draft pool: got %v, want conflict error", err)
	}
}

func TestRegistry_InvestSettlementFailureKeepsLedger(t *testing.T) {
	env := newTestEnv(t)
	p := createActivePool(t, env)
	investor := addrtest.Address(2)
	ctx := context.Background()

	env.gateway.FailTokenTransfer = true

	h, err := env.registry.Invest(ctx, p.PoolID, investor, 1000)
	if err != nil {
		t.Fatalf("Invest must not propagate settlement failure: %v", err)
	}
	if h.TotalTokens != 100 {
		t.Errorf("holding tokens = %d, want 100", h.TotalTokens)
	}

	failed, err := env.journal.ListByStatus(ctx, domain.SettlementStatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Errorf("failed journal entries = %d, want 1", len(failed))
	}
}

func TestRegistry_ClosePool(t *testing.T) {
	env := newTestEnv(t)
	p := createActivePool(t, env)
	ctx := context.Background()

	closed, err := env.registry.ClosePool(ctx, p.PoolID, "operator-1")
	if err != nil {
		t.Fatalf("ClosePool: %v", err)
	}
	if closed.Status != domain.PoolStatusClosed {
		t.Errorf("status = %s, want CLOSED", closed.Status)
	}

	// No further investment is accepted.
	_, err = env.registry.Invest(ctx, p.PoolID, addrtest.Address(2), 1000)
	if !errs.IsConflict(err) {
		t.Errorf("invest after close: got %v, want conflict error", err)
	}

	// Closing twice conflicts.
	if _, err := env.registry.ClosePool(ctx, p.PoolID, "operator-1"); !errs.IsConflict(err) {
		t.Errorf("double close: got %v, want conflict error", err)
	}
}

func TestRegistry_GetPoolNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.registry.GetPool(context.Background(), "missing")
	if !errs.IsNotFound(err) {
		t.Errorf("got %v, want not found error", err)
	}
}
