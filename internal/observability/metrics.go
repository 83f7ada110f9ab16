package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the market service.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreEventsEmitted    *prometheus.CounterVec
	CoreStateHashDur     prometheus.Histogram
	CoreSequence         prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Market ---
	PoolPrice       *prometheus.GaugeVec
	PoolReserve     *prometheus.GaugeVec
	PoolBought      *prometheus.GaugeVec
	EventPhase      prometheus.Gauge
	EventsSettled   *prometheus.CounterVec
	EventsDiscarded prometheus.Counter
	OrdersCreated   *prometheus.CounterVec
	SettlementClamp prometheus.Counter
	EventIDGaps     *prometheus.GaugeVec
	QuoteCacheWrite *prometheus.CounterVec

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistEventsWritten   prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken       prometheus.Counter
	SnapshotDuration    prometheus.Histogram
	SnapshotSizeBytes   prometheus.Gauge
	SnapshotLastSeq     prometheus.Gauge
	ReplayCommandsTotal prometheus.Counter
	ReplayDuration      prometheus.Gauge

	// --- API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	RateLimited   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing nil
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command_type"}),

		CoreCommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_core_commands_rejected_total",
			Help: "Commands rejected (duplicate, authorization, temporal, state, economic, invalid)",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bwm_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreJournals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreEventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_core_events_emitted_total",
			Help: "Domain events emitted by applied commands",
		}, []string{"event_type"}),

		CoreStateHashDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bwm_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bwm_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bwm_ingest_to_apply_seconds",
			Help:    "Transport receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"command_type"}),

		ApplyToPersist: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bwm_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bwm_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bwm_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bwm_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bwm_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bwm_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bwm_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bwm_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bwm_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		// Market
		PoolPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bwm_pool_price",
			Help: "Current outcome token price (0-1)",
		}, []string{"side"}),

		PoolReserve: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bwm_pool_reserve",
			Help: "Collateral reserved per side",
		}, []string{"side"}),

		PoolBought: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bwm_pool_bought",
			Help: "Outstanding outcome tokens held by traders",
		}, []string{"side"}),

		EventPhase: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bwm_event_phase",
			Help: "Lifecycle phase (0 none, 1 queued, 2 ongoing)",
		}),

		EventsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_events_settled_total",
			Help: "Events ended, by result",
		}, []string{"result"}),

		EventsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_events_discarded_total",
			Help: "Events discarded for starting too late",
		}),

		OrdersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_orders_created_total",
			Help: "Pending orders created",
		}, []string{"side"}),

		SettlementClamp: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_settlement_clamped_total",
			Help: "Settlements whose price shift was clamped to keep LP equity",
		}),

		EventIDGaps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bwm_event_id_gaps",
			Help: "Skipped event ids per oracle",
		}, []string{"oracle"}),

		QuoteCacheWrite: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_quote_cache_writes_total",
			Help: "Quote cache writes",
		}, []string{"status"}),

		// Persistence
		PersistCommandsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_persist_commands_written_total",
			Help: "Commands written to Postgres",
		}),

		PersistJournalsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_persist_events_written_total",
			Help: "Domain events written to Postgres",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bwm_persist_batch_size",
			Help:    "Commands per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bwm_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bwm_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bwm_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bwm_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayCommandsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bwm_replay_commands_total",
			Help: "Commands replayed on startup",
		}),

		ReplayDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bwm_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bwm_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bwm_http_rate_limited_total",
			Help: "Requests refused by the command rate limiter",
		}, []string{"route"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
