// Package metrics exposes Prometheus counters/gauges for the relay's
// handshake, directory, and ratchet concerns, trimmed from the teacher's
// broad messenger_* metric surface down to what this core actually does.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WebSocket / transport metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	// Handshake metrics
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handshakes_total",
			Help: "Total number of EstablishConnection handshakes, by result",
		},
		[]string{"result"}, // ok, bad_bundle, bad_signature
	)

	HandshakeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_handshake_latency_seconds",
			Help:    "Latency of the X3DH EstablishConnection handshake",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
	)

	// Directory metrics
	DirectoryPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_directory_peers",
			Help: "Number of peers currently registered in the directory",
		},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_registrations_total",
			Help: "Total number of register actions, by result",
		},
		[]string{"result"}, // ok, conflict, bad_username
	)

	BundleLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bundle_lookups_total",
			Help: "Total number of get_prekey_bundle actions, by result",
		},
		[]string{"result"}, // ok, not_found
	)

	// Relay (send_message) metrics
	MessagesRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_relayed_total",
			Help: "Total number of send_message actions, by result",
		},
		[]string{"result"}, // ok, not_found, outbound_full
	)

	// Ratchet metrics
	RatchetEncryptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_ratchet_encrypt_total",
			Help: "Total number of Double Ratchet Encrypt calls",
		},
	)

	RatchetDecryptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ratchet_decrypt_total",
			Help: "Total number of Double Ratchet Decrypt calls, by result",
		},
		[]string{"result"}, // ok, aead_failure, max_skips_exceeded
	)

	RatchetSkippedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ratchet_skipped_keys",
			Help: "Current number of cached skipped message keys across all sessions",
		},
	)

	// HTTP metrics (bootstrap upgrade endpoint, /healthz, /metrics)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware wraps HTTP handlers with request-count/latency metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHandshake records an EstablishConnection attempt's result and
// latency.
func RecordHandshake(result string, latency time.Duration) {
	HandshakesTotal.WithLabelValues(result).Inc()
	HandshakeLatency.Observe(latency.Seconds())
}

// RecordRegistration records a register action's result.
func RecordRegistration(result string) {
	RegistrationsTotal.WithLabelValues(result).Inc()
}

// RecordBundleLookup records a get_prekey_bundle action's result.
func RecordBundleLookup(result string) {
	BundleLookupsTotal.WithLabelValues(result).Inc()
}

// RecordMessageRelayed records a send_message action's result.
func RecordMessageRelayed(result string) {
	MessagesRelayedTotal.WithLabelValues(result).Inc()
}

// RecordRatchetDecrypt records a ratchet Decrypt call's result.
func RecordRatchetDecrypt(result string) {
	RatchetDecryptTotal.WithLabelValues(result).Inc()
}
