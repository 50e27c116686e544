// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rwa-pool-ledger/internal/errs"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Pool metrics
	PoolsByStatus  *prometheus.GaugeVec
	TokensInvested *prometheus.CounterVec
	AmountInvested *prometheus.CounterVec

	// Settlement metrics
	SettlementSubmissions *prometheus.CounterVec
	SettlementOutcomes    *prometheus.CounterVec
	SettlementLatency     *prometheus.HistogramVec
	ReconcilerRetries     prometheus.Counter
	StuckPendingEntries   prometheus.Gauge

	// Distribution metrics
	DistributionsCreated  prometheus.Counter
	DistributionsExecuted prometheus.Counter
	DividendsClaimed      prometheus.Counter
	RecipientsCredited    prometheus.Counter

	// Invariant audit metrics
	AuditSweepsTotal    prometheus.Counter
	AuditViolations     *prometheus.CounterVec
	LastCleanAuditSweep prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRevaluation prometheus.Gauge
	UptimeSeconds             prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "rwa_pool_ledger"
	}

	return &Metrics{
		// Ledger operation metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by type and outcome",
		}, []string{"operation", "outcome"}),
		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_errors_total",
			Help:      "Total number of ledger operation errors by kind",
		}, []string{"operation", "kind"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Pool metrics
		PoolsByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "pools",
			Help:      "Number of pools by lifecycle status",
		}, []string{"status"}),
		TokensInvested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tokens_invested_total",
			Help:      "Total tokens credited to investors by pool",
		}, []string{"pool_id"}),
		AmountInvested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "amount_invested_total",
			Help:      "Total amount invested by pool",
		}, []string{"pool_id"}),

		// Settlement metrics
		SettlementSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "submissions_total",
			Help:      "Total number of settlement submissions by operation",
		}, []string{"operation"}),
		SettlementOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "outcomes_total",
			Help:      "Total number of settlement outcomes by operation and status",
		}, []string{"operation", "status"}),
		SettlementLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "gateway_latency_seconds",
			Help:      "Settlement gateway call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ReconcilerRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "reconciler_retries_total",
			Help:      "Total number of failed settlement entries retried by the reconciler",
		}),
		StuckPendingEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "stuck_pending_entries",
			Help:      "Number of journal entries pending longer than the grace period",
		}),

		// Distribution metrics
		DistributionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dividend",
			Name:      "distributions_created_total",
			Help:      "Total number of dividend distributions created",
		}),
		DistributionsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dividend",
			Name:      "distributions_executed_total",
			Help:      "Total number of dividend distributions executed",
		}),
		DividendsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dividend",
			Name:      "claims_total",
			Help:      "Total number of dividend claims",
		}),
		RecipientsCredited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dividend",
			Name:      "recipients_credited_total",
			Help:      "Total number of recipient holdings credited during execute loops",
		}),

		// Invariant audit metrics
		AuditSweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "sweeps_total",
			Help:      "Total number of invariant audit sweeps",
		}),
		AuditViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "violations_total",
			Help:      "Total number of invariant violations detected by check",
		}, []string{"check"}),
		LastCleanAuditSweep: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "last_clean_sweep_timestamp",
			Help:      "Unix timestamp of the last audit sweep without violations",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRevaluation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_revaluation_timestamp",
			Help:      "Unix timestamp of the last successful revaluation sweep",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// Observe records one ledger operation's duration and outcome. Defer
// it at a service entry point with the operation's named error return:
//
//	defer observability.Observe("invest", time.Now(), &err)
func Observe(operation string, start time.Time, errp *error) {
	outcome := "success"
	if *errp != nil {
		outcome = "error"
		RecordOperationError(operation, string(errs.KindOf(*errp)))
	}
	RecordOperation(operation, outcome, time.Since(start).Seconds())
}

// RecordOperation records one ledger operation with its outcome.
func RecordOperation(operation, outcome string, durationSeconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordOperationError records a ledger operation error by taxonomy kind.
func RecordOperationError(operation, kind string) {
	DefaultMetrics.OperationErrors.WithLabelValues(operation, kind).Inc()
}

// RecordInvestment records tokens and amount credited for a pool.
func RecordInvestment(poolID string, tokens int64, amount float64) {
	DefaultMetrics.TokensInvested.WithLabelValues(poolID).Add(float64(tokens))
	DefaultMetrics.AmountInvested.WithLabelValues(poolID).Add(amount)
}

// RecordSettlementSubmission records one settlement journal submission.
func RecordSettlementSubmission(operation string) {
	DefaultMetrics.SettlementSubmissions.WithLabelValues(operation).Inc()
}

// RecordSettlementOutcome records the terminal status of a settlement call.
func RecordSettlementOutcome(operation, status string) {
	DefaultMetrics.SettlementOutcomes.WithLabelValues(operation, status).Inc()
}

// RecordGatewayLatency records settlement gateway call latency.
func RecordGatewayLatency(method string, seconds float64) {
	DefaultMetrics.SettlementLatency.WithLabelValues(method).Observe(seconds)
}

// RecordAuditSweep records one invariant sweep and its violations.
func RecordAuditSweep(violationsByCheck map[string]int, timestampSeconds float64) {
	DefaultMetrics.AuditSweepsTotal.Inc()
	for check, count := range violationsByCheck {
		DefaultMetrics.AuditViolations.WithLabelValues(check).Add(float64(count))
	}
	if len(violationsByCheck) == 0 {
		DefaultMetrics.LastCleanAuditSweep.Set(timestampSeconds)
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
