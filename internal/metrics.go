package internal

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the relay's Prometheus collectors on a registry owned by one
// server, so several servers can live in one process (tests do this).
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	connections      prometheus.Gauge
	broadcasts       prometheus.Counter
	delivered        prometheus.Counter
	dropped          prometheus.Counter
	rejectedFrames   *prometheus.CounterVec
	rejectedUpgrades prometheus.Counter
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors. The room and identity gauges are read
// from hub and presence at scrape time.
func NewMetrics(hub *Hub, presence *PresenceTracker) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "comicchat_ws_connections",
			Help: "Current number of live websocket sessions.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comicchat_messages_broadcast_total",
			Help: "Messages stored in a room history and fanned out.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comicchat_messages_delivered_total",
			Help: "Frames queued to room members.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comicchat_deliveries_dropped_total",
			Help: "Frames skipped because a member queue was full or closing.",
		}),
		rejectedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comicchat_frames_rejected_total",
			Help: "Inbound frames dropped without effect.",
		}, []string{"reason"}),
		rejectedUpgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comicchat_upgrades_rejected_total",
			Help: "Websocket upgrade attempts refused by the rate limiter.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comicchat_http_requests_total",
			Help: "Total count of HTTP requests received.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "comicchat_http_request_duration_seconds",
			Help:    "Histogram of request durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	m.registry.MustRegister(
		m.connections,
		m.broadcasts,
		m.delivered,
		m.dropped,
		m.rejectedFrames,
		m.rejectedUpgrades,
		m.requests,
		m.requestDuration,
	)
	if hub != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "comicchat_rooms",
			Help: "Rooms currently held in memory.",
		}, func() float64 {
			return float64(hub.Count())
		}))
	}
	if presence != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "comicchat_identities_online",
			Help: "Distinct identities with at least one live session.",
		}, func() float64 {
			return float64(presence.ActiveCount())
		}))
	}
	return m
}

func (m *Metrics) IncConn() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) DecConn() {
	if m != nil {
		m.connections.Dec()
	}
}

// ObserveBroadcast records one stored message and its fan-out result.
func (m *Metrics) ObserveBroadcast(delivery Delivery) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.delivered.Add(float64(delivery.Delivered))
	m.dropped.Add(float64(delivery.Dropped))
}

func (m *Metrics) RejectFrame(reason string) {
	if m != nil {
		m.rejectedFrames.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RejectUpgrade() {
	if m != nil {
		m.rejectedUpgrades.Inc()
	}
}

// Handler exposes this server's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument wraps next with request counters and latency histograms. The
// path label comes from the mux pattern set, never the raw URL.
func (m *Metrics) Instrument(pathLabel string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start).Seconds()

		labels := []string{r.Method, pathLabel, strconv.Itoa(rec.status)}
		m.requests.WithLabelValues(labels...).Inc()
		m.requestDuration.WithLabelValues(labels...).Observe(elapsed)
	})
}

// statusRecorder captures the final status code for metrics purposes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

