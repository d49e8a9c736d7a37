// Package metrics exposes Prometheus collectors for the wubwatch daemon.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	channelDialFailuresTotal   *prometheus.CounterVec
	monitorPollsTotal          *prometheus.CounterVec
	monitorFeedUpdatesTotal    *prometheus.CounterVec

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

		channelDialFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wubwatch_channel_dial_failures_total",
				Help: "Failed push channel dials, labeled by host.",
			},
			[]string{"host"},
		)

		monitorPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wubwatch_monitor_polls_total",
				Help: "Monitor graph refreshes, labeled by result.",
			},
			[]string{"result"},
		)

		monitorFeedUpdatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wubwatch_monitor_feed_updates_total",
				Help: "Monitor feed fragments applied, labeled by action.",
			},
			[]string{"action"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from an http(s) or ws(s) URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveDialFailure counts a failed push channel dial.
func ObserveDialFailure(rawURL string) {
	Init()
	channelDialFailuresTotal.WithLabelValues(SanitizeHost(rawURL)).Inc()
}

// ObserveMonitorPoll records one dashboard refresh; result is "ok" or "error".
func ObserveMonitorPoll(result string) {
	Init()
	monitorPollsTotal.WithLabelValues(result).Inc()
}

// ObserveFeedUpdate records one feed fragment; action is "replace" or "prepend".
func ObserveFeedUpdate(action string) {
	Init()
	monitorFeedUpdatesTotal.WithLabelValues(action).Inc()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
