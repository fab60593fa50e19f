// Package metrics exposes Prometheus collectors for the sentinel service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlsTotal                *prometheus.CounterVec
	crawlStageDurationSeconds  *prometheus.HistogramVec
	storeRetriesTotal          *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	activeCaptures             prometheus.Gauge
	captureRateLimitDelay      *prometheus.HistogramVec
	probeRobotsFallbackTotal   prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once, and every
// Observe helper calls it.
func Init() {
	once.Do(func() {
		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_crawls_total",
				Help: "Crawl pipeline runs, labeled by site, classification and status.",
			},
			[]string{"site", "classification", "status"},
		)

		crawlStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_crawl_stage_duration_seconds",
				Help:    "Duration of each crawl pipeline stage.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"stage"},
		)

		storeRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_store_retries_total",
				Help: "Database operations retried after a transient failure.",
			},
			[]string{"op"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_alerts_total",
				Help: "Undercut alerts sent, labeled by notifier backend and result.",
			},
			[]string{"backend", "result"},
		)

		activeCaptures = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_active_captures",
				Help: "Browser sessions currently capturing a page.",
			},
		)

		captureRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_capture_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-domain capture limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		probeRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_probe_robots_fallback_total",
				Help: "robots.txt fetches that timed out and were treated as allow-all.",
			},
		)

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a URL to its lowercase hostname, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
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

// ObserveCrawl counts one finished crawl.
func ObserveCrawl(rawURL, classification, status string) {
	Init()
	crawlsTotal.WithLabelValues(SanitizeSite(rawURL), classification, status).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	Init()
	crawlStageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveStoreRetry counts one retried database operation.
func ObserveStoreRetry(op string) {
	Init()
	storeRetriesTotal.WithLabelValues(op).Inc()
}

// ObserveAlert counts one alert delivery attempt.
func ObserveAlert(backend string, err error) {
	Init()
	result := "sent"
	if err != nil {
		result = "failed"
	}
	alertsTotal.WithLabelValues(backend, result).Inc()
}

// IncActiveCaptures marks a browser session as started.
func IncActiveCaptures() {
	Init()
	activeCaptures.Inc()
}

// DecActiveCaptures marks a browser session as finished.
func DecActiveCaptures() {
	Init()
	activeCaptures.Dec()
}

// ObserveRateLimitDelay records a per-domain limiter wait.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	captureRateLimitDelay.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveRobotsFallback counts a robots.txt fetch that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	probeRobotsFallbackTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
