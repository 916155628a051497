// Package telemetry exposes Prometheus collectors for the harvester.
package telemetry

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
	fetchAttemptsTotal       *prometheus.CounterVec
	fetchDurationSeconds     *prometheus.HistogramVec
	antiBotDetectionsTotal   *prometheus.CounterVec
	rateLimitedTotal         *prometheus.CounterVec
	proxyFallbacksTotal      prometheus.Counter
	listingsScrapedTotal     *prometheus.CounterVec
	listingsNewTotal         *prometheus.CounterVec
	scrapeRunDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by site and status code.",
			},
			[]string{"site", "status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of single-attempt fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		antiBotDetectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_antibot_detections_total",
				Help: "Total responses matching an anti-bot signature, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_rate_limited_total",
				Help: "Total 429 responses received, labeled by site.",
			},
			[]string{"site"},
		)

		proxyFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_proxy_fallbacks_total",
				Help: "Total proxied fetches that fell back to a direct connection.",
			},
		)

		listingsScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listings_scraped_total",
				Help: "Total listings extracted, labeled by source.",
			},
			[]string{"source"},
		)

		listingsNewTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listings_new_total",
				Help: "Total listings seen for the first time, labeled by source.",
			},
			[]string{"source"},
		)

		scrapeRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_scrape_run_duration_seconds",
				Help:    "Histogram of full scrape run durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		)
	})
}

// SiteLabel reduces a URL to its lowercase hostname for use as a metric
// label, keeping full URLs (and their unbounded cardinality) out of the
// registry. Unparseable input maps to "unknown".
func SiteLabel(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	// Bare hosts arrive without a scheme; parse them as protocol-relative.
	if u, err := url.Parse("//" + rawURL); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	return "unknown"
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt records one fetch attempt and its latency.
func ObserveFetchAttempt(site string, status int, duration time.Duration) {
	if fetchAttemptsTotal == nil {
		return
	}
	s := SiteLabel(site)
	fetchAttemptsTotal.WithLabelValues(s, strconv.Itoa(status)).Inc()
	fetchDurationSeconds.WithLabelValues(s).Observe(duration.Seconds())
}

// ObserveAntiBotDetection counts a response flagged by the signature list.
func ObserveAntiBotDetection(site string) {
	if antiBotDetectionsTotal == nil {
		return
	}
	antiBotDetectionsTotal.WithLabelValues(SiteLabel(site)).Inc()
}

// ObserveRateLimited counts a 429 response.
func ObserveRateLimited(site string) {
	if rateLimitedTotal == nil {
		return
	}
	rateLimitedTotal.WithLabelValues(SiteLabel(site)).Inc()
}

// ObserveProxyFallback counts one proxy-to-direct fallback.
func ObserveProxyFallback() {
	if proxyFallbacksTotal == nil {
		return
	}
	proxyFallbacksTotal.Inc()
}

// ObserveListings records scraped and newly seen listing counts for a source.
func ObserveListings(source string, scraped, created int) {
	if listingsScrapedTotal == nil {
		return
	}
	listingsScrapedTotal.WithLabelValues(source).Add(float64(scraped))
	listingsNewTotal.WithLabelValues(source).Add(float64(created))
}

// ObserveScrapeRun records the duration of a full scrape run.
func ObserveScrapeRun(duration time.Duration) {
	if scrapeRunDurationSeconds == nil {
		return
	}
	scrapeRunDurationSeconds.Observe(duration.Seconds())
}
