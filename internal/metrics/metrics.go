// Package metrics exposes Prometheus collectors for the comparison service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	navigationsTotal           *prometheus.CounterVec
	navigationRetriesTotal     *prometheus.CounterVec
	readinessTimeoutsTotal     *prometheus.CounterVec
	rpcCommandsTotal           *prometheus.CounterVec
	rpcReplaysTotal            *prometheus.CounterVec
	artifactBytesTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		navigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdiff_navigations_total",
				Help: "Total browser navigations, labeled by side and outcome.",
			},
			[]string{"side", "outcome"},
		)

		navigationRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdiff_navigation_retries_total",
				Help: "Navigation attempts retried after a transient failure.",
			},
			[]string{"side"},
		)

		readinessTimeoutsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdiff_readiness_timeouts_total",
				Help: "Readiness waits that gave up, labeled by side and stage.",
			},
			[]string{"side", "stage"},
		)

		rpcCommandsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdiff_rpc_commands_total",
				Help: "Socket commands served, labeled by command and result.",
			},
			[]string{"command", "result"},
		)

		rpcReplaysTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdiff_rpc_replays_total",
				Help: "Replay escalations requested by workers, labeled by token.",
			},
			[]string{"token"},
		)

		artifactBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webdiff_artifact_bytes_total",
				Help: "Bytes written to the artifact store, labeled by kind.",
			},
			[]string{"kind"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveNavigation records a completed navigation attempt.
func ObserveNavigation(side string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	navigationsTotal.WithLabelValues(side, outcome).Inc()
}

// ObserveNavigationRetry counts one transient-navigation retry.
func ObserveNavigationRetry(side string) {
	navigationRetriesTotal.WithLabelValues(side).Inc()
}

// ObserveReadinessTimeout counts a readiness stage that gave up.
func ObserveReadinessTimeout(side, stage string) {
	readinessTimeoutsTotal.WithLabelValues(side, stage).Inc()
}

// ObserveRPCCommand counts one served socket command.
func ObserveRPCCommand(command, result string) {
	rpcCommandsTotal.WithLabelValues(command, result).Inc()
}

// ObserveRPCReplay counts one replay escalation.
func ObserveRPCReplay(token string) {
	rpcReplaysTotal.WithLabelValues(token).Inc()
}

// ObserveArtifact records bytes persisted to the artifact store.
func ObserveArtifact(kind string, size int) {
	if size > 0 {
		artifactBytesTotal.WithLabelValues(kind).Add(float64(size))
	}
}
