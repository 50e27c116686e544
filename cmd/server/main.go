// Package main runs the ledger daemon: it wires the stores and
// services, keeps the settlement journal reconciled, revalues holdings
// against current pool prices, sweeps the ledger invariants, and serves
// health/metrics/status over HTTP. The command transport that accepts
// ledger operations lives upstream; this process owns the background
// loops.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rwa-pool-ledger/internal/assets"
	"rwa-pool-ledger/internal/audit"
	"rwa-pool-ledger/internal/auth"
	"rwa-pool-ledger/internal/dividend"
	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/holdings"
	"rwa-pool-ledger/internal/observability"
	"rwa-pool-ledger/internal/pool"
	"rwa-pool-ledger/internal/settlement"
	"rwa-pool-ledger/internal/settlement/stub"
	"rwa-pool-ledger/internal/staking"
	"rwa-pool-ledger/internal/storage"
	chstore "rwa-pool-ledger/internal/storage/clickhouse"
	"rwa-pool-ledger/internal/storage/memory"
	"rwa-pool-ledger/internal/storage/migrations"
	pgstore "rwa-pool-ledger/internal/storage/postgres"
	"rwa-pool-ledger/internal/transfer"
)

// Server holds the wired services and background-loop configuration.
type Server struct {
	registry   *pool.Registry
	ledger     *holdings.Ledger
	transfers  *transfer.Service
	dividends  *dividend.Engine
	stakes     *staking.Service
	verifier   *audit.Verifier
	reconciler *settlement.Reconciler
	subscriber *settlement.Subscriber
	revalueInt time.Duration
	auditInt   time.Duration
	logger     *zap.Logger
	startedAt  time.Time
}

func main() {
	// Load .env if present; system env vars win.
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the event journal (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	settlementEndpoint := flag.String("settlement-endpoint", os.Getenv("SETTLEMENT_ENDPOINT"), "Settlement gateway JSON-RPC endpoint")
	settlementWS := flag.String("settlement-ws-endpoint", os.Getenv("SETTLEMENT_WS_ENDPOINT"), "Settlement gateway WebSocket endpoint for confirmations (optional)")
	useStubGateway := flag.Bool("use-stub-settlement", false, "Use the in-memory settlement gateway stub")
	operators := flag.String("operators", os.Getenv("LEDGER_OPERATORS"), "Comma-separated authorized operator addresses (empty allows all)")
	reconcileInterval := flag.Duration("reconcile-interval", settlement.DefaultReconcileInterval, "Settlement journal reconciliation interval")
	revalueInterval := flag.Duration("revalue-interval", 5*time.Minute, "Holding revaluation interval")
	auditInterval := flag.Duration("audit-interval", 15*time.Minute, "Invariant audit sweep interval")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for health/metrics/status")

	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if !*useStubGateway && *settlementEndpoint == "" {
		logger.Fatal("--settlement-endpoint is required (use --use-stub-settlement for the in-memory stub)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatal("create stores", zap.Error(err))
	}
	defer cleanup()

	var gateway settlement.Gateway
	if *useStubGateway {
		gateway = stub.NewGateway()
		logger.Info("using in-memory settlement gateway stub")
	} else {
		gateway = settlement.NewHTTPGateway(*settlementEndpoint)
	}

	var authz auth.Authorizer = auth.AllowAll{}
	if ops := splitList(*operators); len(ops) > 0 {
		authz = auth.NewStaticAuthorizer(ops...)
		logger.Info("operator allowlist enabled", zap.Int("operators", len(ops)))
	}

	server := buildServer(stores, gateway, authz, *settlementWS, *revalueInterval, *auditInterval, *reconcileInterval, logger)

	// Graceful shutdown on SIGINT/SIGTERM; a second signal forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		select {
		case sig := <-sigCh:
			logger.Warn("forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	go server.serveHTTP(*metricsAddr)

	server.Run(ctx)
	logger.Info("shutdown complete")
}

// ledgerStores holds the storage implementations the services run on.
type ledgerStores struct {
	pools         storage.PoolStore
	holdings      storage.HoldingStore
	distributions storage.DistributionStore
	journal       storage.SettlementJournalStore
	events        storage.LedgerEventStore
	txm           storage.TxManager
}

// createStores builds either the in-memory stack or postgres plus an
// optional clickhouse event journal, running migrations on connect.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *zap.Logger) (*ledgerStores, func(), error) {
	if useMemory {
		pools := memory.NewPoolStore()
		holdingStore := memory.NewHoldingStore()
		distributions := memory.NewDistributionStore()
		journal := memory.NewSettlementJournalStore()
		events := memory.NewLedgerEventStore()
		stores := &ledgerStores{
			pools:         pools,
			holdings:      holdingStore,
			distributions: distributions,
			journal:       journal,
			events:        events,
			txm:           memory.NewTxManager(pools, holdingStore, distributions, journal, events),
		}
		return stores, func() {}, nil
	}

	pgPool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pgPool.Pool); err != nil {
		pgPool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &ledgerStores{
		pools:         pgstore.NewPoolStore(pgPool),
		holdings:      pgstore.NewHoldingStore(pgPool),
		distributions: pgstore.NewDistributionStore(pgPool),
		journal:       pgstore.NewSettlementJournalStore(pgPool),
		events:        memory.NewLedgerEventStore(),
		txm:           pgstore.NewTxManager(pgPool),
	}
	cleanup := func() { pgPool.Close() }

	if clickhouseDSN != "" {
		chConn, err := chstore.NewConn(ctx, clickhouseDSN)
		if err != nil {
			pgPool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, chConn); err != nil {
			chConn.Close()
			pgPool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.events = chstore.NewLedgerEventStore(chConn)
		cleanup = func() {
			chConn.Close()
			pgPool.Close()
		}
	} else {
		logger.Info("no clickhouse dsn, event journal kept in memory")
	}

	return stores, cleanup, nil
}

// buildServer wires the services over the chosen stores and gateway.
func buildServer(stores *ledgerStores, gateway settlement.Gateway, authz auth.Authorizer, settlementWS string, revalueInt, auditInt, reconcileInt time.Duration, logger *zap.Logger) *Server {
	recorder := settlement.NewRecorder(settlement.RecorderOptions{
		Journal: stores.journal,
		Gateway: gateway,
		Logger:  logger.Named("settlement"),
	})
	reconciler := settlement.NewReconciler(settlement.ReconcilerOptions{
		Journal:  stores.journal,
		Gateway:  gateway,
		Logger:   logger.Named("reconciler"),
		Interval: reconcileInt,
	})

	var subscriber *settlement.Subscriber
	if settlementWS != "" {
		subscriber = settlement.NewSubscriber(settlementWS, recorder, logger.Named("subscriber"), nil)
	}

	ledger := holdings.NewLedger(holdings.Options{
		Holdings: stores.holdings,
		Pools:    stores.pools,
		Logger:   logger.Named("holdings"),
	})
	assetSvc := assets.NewService(stores.pools)

	registry := pool.NewRegistry(pool.Options{
		Pools:     stores.pools,
		Ledger:    ledger,
		Assets:    assetSvc,
		Authz:     authz,
		Recorder:  recorder,
		Events:    stores.events,
		TxManager: stores.txm,
		Logger:    logger.Named("pool"),
	})
	transfers := transfer.NewService(transfer.Options{
		Holdings:  stores.holdings,
		Pools:     stores.pools,
		Recorder:  recorder,
		Events:    stores.events,
		TxManager: stores.txm,
		Logger:    logger.Named("transfer"),
	})
	dividends := dividend.NewEngine(dividend.Options{
		Distributions: stores.distributions,
		Holdings:      stores.holdings,
		Pools:         stores.pools,
		Ledger:        ledger,
		Authz:         authz,
		Recorder:      recorder,
		Events:        stores.events,
		TxManager:     stores.txm,
		Logger:        logger.Named("dividend"),
	})
	stakes := staking.NewService(staking.Options{
		Holdings:  stores.holdings,
		Pools:     stores.pools,
		Events:    stores.events,
		TxManager: stores.txm,
		Logger:    logger.Named("staking"),
	})
	verifier := audit.NewVerifier(audit.Options{
		Pools:         stores.pools,
		Holdings:      stores.holdings,
		Distributions: stores.distributions,
		Logger:        logger.Named("audit"),
	})

	return &Server{
		registry:   registry,
		ledger:     ledger,
		transfers:  transfers,
		dividends:  dividends,
		stakes:     stakes,
		verifier:   verifier,
		reconciler: reconciler,
		subscriber: subscriber,
		revalueInt: revalueInt,
		auditInt:   auditInt,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Run starts the background loops and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("ledger daemon starting")

	go s.reconciler.Run(ctx)
	if s.subscriber != nil {
		go s.subscriber.Run(ctx)
	}
	go s.runRevaluationLoop(ctx)
	go s.runAuditLoop(ctx)
	go s.runUptimeCounter(ctx)

	<-ctx.Done()
}

// runRevaluationLoop recomputes holding valuations of every active pool
// on a fixed interval.
func (s *Server) runRevaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.revalueInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pools, err := s.registry.ListPools(ctx)
			if err != nil {
				s.logger.Warn("list pools for revaluation", zap.Error(err))
				continue
			}
			total := 0
			for _, p := range pools {
				if p.Status != domain.PoolStatusActive {
					continue
				}
				updated, err := s.ledger.RevaluePool(ctx, p.PoolID)
				if err != nil {
					s.logger.Warn("revalue pool",
						zap.String("pool_id", p.PoolID),
						zap.Error(err))
					continue
				}
				total += updated
			}
			observability.DefaultMetrics.LastSuccessfulRevaluation.Set(float64(time.Now().Unix()))
			s.logger.Debug("revaluation sweep complete", zap.Int("holdings_updated", total))
		}
	}
}

// runAuditLoop sweeps the ledger invariants and reports violations.
func (s *Server) runAuditLoop(ctx context.Context) {
	ticker := time.NewTicker(s.auditInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.verifier.VerifyAll(ctx)
			if err != nil {
				s.logger.Warn("invariant sweep", zap.Error(err))
				continue
			}
			byCheck := make(map[string]int)
			for _, v := range report.Violations {
				byCheck[v.Check]++
				s.logger.Error("invariant violation",
					zap.String("check", v.Check),
					zap.String("pool_id", v.PoolID),
					zap.String("entity_id", v.EntityID),
					zap.String("detail", v.Detail))
			}
			observability.RecordAuditSweep(byCheck, float64(time.Now().Unix()))
		}
	}
}

func (s *Server) runUptimeCounter(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.DefaultMetrics.UptimeSeconds.Inc()
		}
	}
}

// serveHTTP exposes health, metrics and a JSON status endpoint.
func (s *Server) serveHTTP(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Error("http server", zap.Error(err))
	}
}

// StatusResponse is the JSON payload of the /status endpoint.
type StatusResponse struct {
	Status       string         `json:"status"`
	Uptime       string         `json:"uptime"`
	PoolsByState map[string]int `json:"pools_by_state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:       "running",
		Uptime:       time.Since(s.startedAt).String(),
		PoolsByState: make(map[string]int),
	}

	pools, err := s.registry.ListPools(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, p := range pools {
		resp.PoolsByState[string(p.Status)]++
		observability.DefaultMetrics.PoolsByStatus.WithLabelValues(string(p.Status)).Set(float64(resp.PoolsByState[string(p.Status)]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// splitList splits a comma-separated flag value, dropping empties.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
