package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for VeilPerp.
type Metrics struct {
	// --- Confidential computation pipeline ---
	RequestsSubmitted *prometheus.CounterVec
	RequestsRejected  *prometheus.CounterVec
	RequestsInFlight  prometheus.Gauge
	CallbacksApplied  *prometheus.CounterVec
	CallbacksRejected *prometheus.CounterVec
	CallbacksAborted  *prometheus.CounterVec
	CallbackDuration  *prometheus.HistogramVec

	// --- Position lifecycle ---
	PositionsActive     prometheus.Gauge
	PositionsOpened     prometheus.Counter
	PositionsClosed     *prometheus.CounterVec
	PositionsLiquidated prometheus.Counter
	AuditSequence       prometheus.Gauge

	// --- Custody accounting ---
	CustodyOwned        *prometheus.GaugeVec
	CustodyLocked       *prometheus.GaugeVec
	CustodyCollateral   *prometheus.GaugeVec
	CustodyProtocolFees *prometheus.GaugeVec
	CustodyUtilization  *prometheus.GaugeVec

	// --- Oracle ---
	OraclePriceUpdates *prometheus.CounterVec

	// --- Ingestion & publish ---
	CommandsReceived *prometheus.CounterVec
	PublishDrops     prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDuration prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	callbackBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	}

	return &Metrics{
		// Confidential computation pipeline
		RequestsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_requests_submitted_total",
			Help: "Computation requests accepted by the cluster",
		}, []string{"circuit"}),

		RequestsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_requests_rejected_total",
			Help: "Requests rejected before submission (busy, permission, oracle, custody)",
		}, []string{"circuit", "reason"}),

		RequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veil_requests_in_flight",
			Help: "Requests submitted and awaiting their callback",
		}),

		CallbacksApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_callbacks_applied_total",
			Help: "Callbacks that committed a state transition",
		}, []string{"circuit"}),

		CallbacksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_callbacks_rejected_total",
			Help: "Callbacks discarded without committing (nonce mismatch, circuit status)",
		}, []string{"circuit", "reason"}),

		CallbacksAborted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_callbacks_aborted_total",
			Help: "Computations the cluster aborted",
		}, []string{"circuit"}),

		CallbackDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veil_callback_apply_duration_seconds",
			Help:    "Time to apply one callback",
			Buckets: callbackBuckets,
		}, []string{"circuit"}),

		// Position lifecycle
		PositionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veil_positions_active",
			Help: "Non-terminal position records",
		}),

		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_positions_opened_total",
			Help: "Positions activated by a successful init",
		}),

		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_positions_closed_total",
			Help: "Positions closed (trader close or rejected init)",
		}, []string{"reason"}),

		PositionsLiquidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_positions_liquidated_total",
			Help: "Positions liquidated",
		}),

		AuditSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veil_audit_sequence",
			Help: "Last audit log sequence assigned",
		}),

		// Custody accounting
		CustodyOwned: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veil_custody_owned",
			Help: "Pool-owned liquidity per custody, tokens 1e6",
		}, []string{"pool", "custody"}),

		CustodyLocked: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veil_custody_locked",
			Help: "Liquidity locked against positions, tokens 1e6",
		}, []string{"pool", "custody"}),

		CustodyCollateral: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veil_custody_collateral",
			Help: "Trader collateral held, tokens 1e6",
		}, []string{"pool", "custody"}),

		CustodyProtocolFees: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veil_custody_protocol_fees",
			Help: "Accrued protocol fees, tokens 1e6",
		}, []string{"pool", "custody"}),

		CustodyUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veil_custody_utilization_bps",
			Help: "Locked over owned in basis points",
		}, []string{"pool", "custody"}),

		// Oracle
		OraclePriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_oracle_price_updates_total",
			Help: "Price observations accepted into the feed cache",
		}, []string{"feed"}),

		// Ingestion & publish
		CommandsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_commands_received_total",
			Help: "Commands consumed from NATS",
		}, []string{"command", "status"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_persist_events_written_total",
			Help: "Audit events written to Postgres",
		}),

		PersistBatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veil_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veil_persist_last_sequence",
			Help: "Last persisted audit sequence",
		}),
	}
}

// SetCustodyMetrics updates the custody gauges from one snapshot.
func (m *Metrics) SetCustodyMetrics(pool, custody string, owned, locked, collateral, fees, utilizationBps uint64) {
	m.CustodyOwned.WithLabelValues(pool, custody).Set(float64(owned))
	m.CustodyLocked.WithLabelValues(pool, custody).Set(float64(locked))
	m.CustodyCollateral.WithLabelValues(pool, custody).Set(float64(collateral))
	m.CustodyProtocolFees.WithLabelValues(pool, custody).Set(float64(fees))
	m.CustodyUtilization.WithLabelValues(pool, custody).Set(float64(utilizationBps))
}
