// Package metrics exposes Prometheus collectors for the crawler and RAG pipeline.
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
	scrapePagesTotal           *prometheus.CounterVec
	scrapeBytesTotal           *prometheus.CounterVec
	scrapeJobsTotal            *prometheus.CounterVec
	scrapeJobsRunning          prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	chunksEmbeddedTotal        prometheus.Counter
	embeddingRequestsTotal     *prometheus.CounterVec
	vectorDBBuildsTotal        *prometheus.CounterVec
	chatMessagesTotal          *prometheus.CounterVec
	llmTokensTotal             *prometheus.CounterVec
	documentsProcessedTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers collectors with the default registry. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		scrapePagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_pages_total",
			Help: "Pages fetched, labeled by site and status.",
		}, []string{"site", "status"})

		scrapeBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_bytes_total",
			Help: "Bytes fetched, labeled by site.",
		}, []string{"site"})

		scrapeJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_jobs_total",
			Help: "Scraping jobs by lifecycle status.",
		}, []string{"status"})

		scrapeJobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scrape_jobs_running",
			Help: "Scraping jobs currently running.",
		})

		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		}, []string{"method", "route"})

		robotsFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scrape_robots_fallback_total",
			Help: "robots.txt lookups that fell back to allow-all after TLS timeouts.",
		})

		rateLimitDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rate_limit_delay_seconds",
			Help:    "Time spent waiting on per-site rate limits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"})

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Workers currently running a task.",
		})

		chunksEmbeddedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "chunks_embedded_total",
			Help: "Text chunks embedded into vector databases.",
		})

		embeddingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "embedding_requests_total",
			Help: "Embedding API calls, labeled by result.",
		}, []string{"result"})

		vectorDBBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vector_db_builds_total",
			Help: "Vector database builds, labeled by outcome.",
		}, []string{"status"})

		chatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages answered, labeled by model.",
		}, []string{"model"})

		llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Completion tokens reported by the LLM, labeled by model.",
		}, []string{"model"})

		documentsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "documents_processed_total",
			Help: "Uploaded documents processed, labeled by format and result.",
		}, []string{"format", "result"})
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one fetched page.
func ObservePage(pageURL, status string, bytesFetched int) {
	site := SanitizeSite(pageURL)
	scrapePagesTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		scrapeBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveJob counts a job status transition and tracks the running gauge.
func ObserveJob(status string) {
	scrapeJobsTotal.WithLabelValues(status).Inc()
	switch status {
	case "running":
		scrapeJobsRunning.Inc()
	case "completed", "failed":
		scrapeJobsRunning.Dec()
	}
}

// ObserveHTTPRequest records request count and latency.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts robots.txt allow-all fallbacks.
func ObserveRobotsFallback() {
	robotsFallbackTotal.Inc()
}

// ObserveRateLimitDelay records a rate limit wait.
func ObserveRateLimitDelay(site string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(site).Observe(d.Seconds())
}

// IncActiveWorkers marks a worker busy.
func IncActiveWorkers() { activeWorkers.Inc() }

// DecActiveWorkers marks a worker idle.
func DecActiveWorkers() { activeWorkers.Dec() }

// ObserveEmbedding records one embeddings call covering n inputs.
func ObserveEmbedding(n int, err error) {
	if err != nil {
		embeddingRequestsTotal.WithLabelValues("error").Inc()
		return
	}
	embeddingRequestsTotal.WithLabelValues("ok").Inc()
	chunksEmbeddedTotal.Add(float64(n))
}

// ObserveVectorDBBuild records a finished index build.
func ObserveVectorDBBuild(status string) {
	vectorDBBuildsTotal.WithLabelValues(status).Inc()
}

// ObserveChat records an answered chat message.
func ObserveChat(model string, tokens int) {
	chatMessagesTotal.WithLabelValues(model).Inc()
	if tokens > 0 {
		llmTokensTotal.WithLabelValues(model).Add(float64(tokens))
	}
}

// ObserveDocument records one processed upload.
func ObserveDocument(format string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	documentsProcessedTotal.WithLabelValues(format, result).Inc()
}
