package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	EventsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_events_processed_total",
			Help: "Total number of events forwarded downstream",
		},
	)

	DuplicatesFiltered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_duplicates_filtered_total",
			Help: "Total number of events dropped by the deduplication engine",
		},
	)

	EventsInQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayer_events_in_queue",
			Help: "Number of events buffered in the router pending batch flush",
		},
	)

	StaleEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_stale_events_dropped_total",
			Help: "Total number of events dropped by the staleness gate",
		},
	)

	ProcessingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayer_processing_latency_seconds",
			Help:    "Time taken to flush a batch of events in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Relay pool metrics
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayer_active_connections",
			Help: "Number of upstream relay connections currently subscribed",
		},
	)

	RelayReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_relay_reconnects_total",
			Help: "Total number of reconnect attempts by relay URL",
		},
		[]string{"relay"},
	)

	// Fanout metrics
	FanoutMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_fanout_messages_total",
			Help: "Total number of fanout deliveries by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	// Settlement metrics
	SettlementTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_settlement_ticks_total",
			Help: "Total number of settlement reconciliation cycles completed",
		},
	)

	TradesSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_trades_settled_total",
			Help: "Total number of trades transitioned by final status",
		},
		[]string{"status"},
	)

	CreditsAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_credits_awarded_total",
			Help: "Total credits awarded across all balances",
		},
	)

	// Process metrics
	MemoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayer_memory_usage_kb",
			Help: "Resident memory of the relayer process in kilobytes",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_api_requests_total",
			Help: "Total number of admin API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(EventsProcessed)
	prometheus.MustRegister(DuplicatesFiltered)
	prometheus.MustRegister(EventsInQueue)
	prometheus.MustRegister(StaleEventsDropped)
	prometheus.MustRegister(ProcessingLatency)
	prometheus.MustRegister(ActiveConnections)
	prometheus.MustRegister(RelayReconnects)
	prometheus.MustRegister(FanoutMessages)
	prometheus.MustRegister(SettlementTicks)
	prometheus.MustRegister(TradesSettled)
	prometheus.MustRegister(CreditsAwarded)
	prometheus.MustRegister(MemoryUsage)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
