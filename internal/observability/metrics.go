package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lending engine.
type Metrics struct {
	// Operations
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// Interest (snapshot gauges refreshed by the site poller)
	BorrowIndexWad *prometheus.GaugeVec
	ProtocolFees   *prometheus.GaugeVec
	UtilizationBps *prometheus.GaugeVec
	BorrowRateRay  *prometheus.GaugeVec

	// Liquidation & resolution
	Liquidations      *prometheus.CounterVec
	FlashRollbacks    *prometheus.CounterVec
	BadDebt           *prometheus.GaugeVec
	ResolutionState   *prometheus.GaugeVec
	StalePriceRejects *prometheus.CounterVec

	// Oracle feed
	PriceUpdates *prometheus.CounterVec
	PriceAge     *prometheus.GaugeVec

	// Persistence
	PersistRecordsWritten prometheus.Counter
	PersistBatchDur       prometheus.Histogram
	PersistBatchSize      prometheus.Histogram
	PersistErrors         *prometheus.CounterVec

	// HTTP API
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitelend_ops_applied_total",
			Help: "Operations successfully applied",
		}, []string{"site", "action"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitelend_ops_rejected_total",
			Help: "Operations rejected (solvency, config, stale price)",
		}, []string{"site", "action", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitelend_op_duration_seconds",
			Help:    "Time to apply a single operation",
			Buckets: opBuckets,
		}, []string{"action"}),

		BorrowIndexWad: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitelend_borrow_index_wad",
			Help: "Cumulative borrow interest index, 1.0 at site open",
		}, []string{"site"}),

		ProtocolFees: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitelend_protocol_fees_quote",
			Help: "Protocol fees accumulated (quote units), pending or harvested",
		}, []string{"site", "bucket"}),

		UtilizationBps: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitelend_utilization_bps",
			Help: "Quote pool utilization in basis points",
		}, []string{"site"}),

		BorrowRateRay: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitelend_borrow_rate_ray",
			Help: "Current annual borrow rate (ray, as float)",
		}, []string{"site"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitelend_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"site", "kind"}),

		FlashRollbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitelend_flash_rollbacks_total",
			Help: "Flash liquidations rolled back unpaid",
		}, []string{"site"}),

		BadDebt: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitelend_bad_debt_quote",
			Help: "Debt written off to depositors (quote units)",
		}, []string{"site"}),

		ResolutionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitelend_resolution_state",
			Help: "Lifecycle state (0=active 1=resolving 2=resolved 3=disputed)",
		}, []string{"site"}),

		StalePriceRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitelend_stale_price_rejects_total",
			Help: "Operations rejected on stale oracle data",
		}, []string{"site"}),

		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitelend_price_updates_total",
			Help: "Oracle price updates ingested",
		}, []string{"site"}),

		PriceAge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitelend_price_age_seconds",
			Help: "Age of the freshest oracle price",
		}, []string{"site"}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitelend_persist_records_written_total",
			Help: "Operation records written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitelend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitelend_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitelend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitelend_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitelend_http_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}
