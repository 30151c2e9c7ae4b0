package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for DatagramsDropped. These match the protocol's filter
// taxonomy: filtered datagrams are normal operation, not errors.
const (
	DropMalformed  = "malformed"
	DropStale      = "stale"
	DropSelf       = "self"
	DropOutOfOrder = "out_of_order"
	DropTableFull  = "table_full"
)

var (
	Registry = prometheus.NewRegistry()

	DatagramsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syntroswarm",
			Name:      "datagrams_sent_total",
			Help:      "Total state datagrams broadcast to the swarm.",
		},
	)

	DatagramsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syntroswarm",
			Name:      "datagrams_received_total",
			Help:      "Total well-formed datagrams read off the wire.",
		},
	)

	DatagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syntroswarm",
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams filtered before reaching the peer table, by reason.",
		},
		[]string{"reason"},
	)

	LivePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "syntroswarm",
			Name:      "live_peers",
			Help:      "Peers currently tracked in the peer table.",
		},
	)

	PeersPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syntroswarm",
			Name:      "peers_pruned_total",
			Help:      "Peer entries evicted after the liveness timeout.",
		},
	)

	GlobalSyntropy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "syntroswarm",
			Name:      "global_syntropy",
			Help:      "Latest smoothed global syntropy estimate.",
		},
	)

	ConsensusWeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "syntroswarm",
			Name:      "consensus_weight",
			Help:      "Confidence in the swarm aggregate, in [0.2, 1.0].",
		},
	)

	DegradedMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "syntroswarm",
			Name:      "degraded_mode",
			Help:      "1 while the node is aggregating from local state only.",
		},
	)

	ConsensusCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "syntroswarm",
			Name:      "consensus_cycle_seconds",
			Help:      "Duration of one consensus aggregation cycle.",
			// Cycles touch in-memory state only. This covers 10µs .. ~40ms.
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 13),
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syntroswarm",
			Name:      "requests_total",
			Help:      "Total number of status HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "syntroswarm",
			Name:      "request_duration_seconds",
			Help:      "Latency of status HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "syntroswarm",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "syntroswarm",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		DatagramsSent, DatagramsReceived, DatagramsDropped,
		LivePeers, PeersPruned,
		GlobalSyntropy, ConsensusWeight, DegradedMode, ConsensusCycleSeconds,
		RequestsTotal, RequestDuration,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/snapshot", telemetry.Instrument("snapshot", http.HandlerFunc(n.ServeSnapshot)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
