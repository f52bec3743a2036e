package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SatLedger.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreSequence       prometheus.Gauge
	CoreReadDuration   *prometheus.HistogramVec

	// --- Saturation trees ---
	TreeHighestLeaf    *prometheus.GaugeVec
	TreeTotalSat       *prometheus.GaugeVec
	TreeAccounts       *prometheus.GaugeVec
	PenaltyAccrued     prometheus.Counter
	PenaltyClaimed     prometheus.Counter
	CapacityRejections prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge
	ReplayEventsTotal    prometheus.Counter
	ReplayDuration       prometheus.Gauge

	// --- Projections & queries ---
	ProjectionUpdateDur *prometheus.HistogramVec
	QueryRequests       *prometheus.CounterVec
	QueryDuration       *prometheus.HistogramVec
	QueryErrors         *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sat_core_events_applied_total",
			Help: "Commands applied by core, by status",
		}, []string{"event_type", "status"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sat_core_events_rejected_total",
			Help: "Commands not applied (dedup, gap, core error)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sat_core_event_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "sat_core_sequence",
			Help: "Next global sequence number",
		}),

		CoreReadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sat_core_read_duration_seconds",
			Help:    "Time a read closure spent waiting for and running on the core",
			Buckets: latencyBuckets,
		}, []string{"read"}),

		TreeHighestLeaf: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sat_tree_highest_leaf",
			Help: "Highest occupied leaf, -1 when empty",
		}, []string{"tree"}),

		TreeTotalSat: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sat_tree_total_saturation",
			Help: "Total absolute saturation (approximate, float64)",
		}, []string{"tree"}),

		TreeAccounts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sat_tree_accounts",
			Help: "Accounts with a record in the tree",
		}, []string{"tree"}),

		PenaltyAccrued: f.NewCounter(prometheus.CounterOpts{
			Name: "sat_penalty_accrued_total",
			Help: "Pool penalty accrued (approximate, float64)",
		}),

		PenaltyClaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "sat_penalty_claimed_total",
			Help: "Account penalty realized by claims (approximate, float64)",
		}),

		CapacityRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "sat_capacity_rejections_total",
			Help: "Position updates rejected for exceeding tranche capacity or the leaf ceiling",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sat_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "sat_projection_drops_total",
			Help: "Projection outputs dropped because the channel was full",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "sat_publish_drops_total",
			Help: "Outbound events dropped because the channel was full",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "sat_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sat_idempotency_duplicates_total",
			Help: "Duplicate commands detected, by tier",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "sat_dedup_lru_size",
			Help: "Keys held by the idempotency LRU",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sat_event_sequence_gap_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition_kind"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sat_event_out_of_order_total",
			Help: "Out-of-order commands detected",
		}, []string{"partition_kind"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "sat_persist_events_written_total",
			Help: "Events committed to the event log",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sat_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sat_persist_batch_duration_seconds",
			Help:    "Time to commit a persistence batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sat_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"stage"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "sat_persist_last_sequence",
			Help: "Last committed sequence",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sat_replay_events_total",
			Help: "Events replayed at startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "sat_replay_duration_seconds",
			Help: "Duration of the startup replay",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sat_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: prometheus.DefBuckets,
		}, []string{"projection"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sat_query_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "code"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sat_query_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sat_query_errors_total",
			Help: "HTTP API errors",
		}, []string{"endpoint", "error_type"}),
	}
}
