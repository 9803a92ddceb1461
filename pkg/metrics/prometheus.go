// Package metrics provides Prometheus metrics for the credrank ranking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the credrank service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Pipeline metrics - candidates moving through the stages
	candidatesSubmitted prometheus.Counter
	candidatesDuplicate prometheus.Counter
	candidatesScored    prometheus.Counter
	candidatesUnscored  prometheus.Counter
	candidatesCancelled prometheus.Counter
	crawlDuration       prometheus.Histogram
	projectsCrawled     prometheus.Counter
	trustScoreLowConf   prometheus.Counter

	// Fetcher metrics
	fetchRequests   *prometheus.CounterVec // outcome: ok|rate_limited|not_found|forbidden|transient
	fetchRetries    prometheus.Counter
	fetchCacheHits  prometheus.Counter
	fetchDuration   prometheus.Histogram
	rateLimitWaitMs prometheus.Histogram

	// Extractor metrics
	signalOutcomes *prometheus.CounterVec // extractor, outcome: ok|unavailable
	llmCalls       *prometheus.CounterVec // outcome: ok|error|cache_hit|fallback
	llmLatency     prometheus.Histogram

	// Job queue metrics
	jobsEnqueued    *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	jobsDeadLetters *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	claimLatency    prometheus.Histogram

	// Worker metrics
	workerCount  prometheus.Gauge
	jobDuration  *prometheus.HistogramVec
	workerErrors prometheus.Counter

	// Ranking metrics
	eloMatches    prometheus.Counter
	eloResets     prometheus.Counter
	poolSize      *prometheus.GaugeVec
	rankingErrors prometheus.Counter
	snapshotReads prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics by component
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "credrank",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // metric registration is naturally long
	auto := promauto.With(m.registry)

	m.candidatesSubmitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "candidates_submitted_total",
		Help: "Total number of candidate profiles accepted for processing",
	})
	m.candidatesDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "candidates_duplicate_total",
		Help: "Total number of duplicate candidate submissions detected",
	})
	m.candidatesScored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "candidates_scored_total",
		Help: "Total number of candidates that reached a usable aggregate score",
	})
	m.candidatesUnscored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "candidates_unscored_total",
		Help: "Total number of candidates finished with insufficient data",
	})
	m.candidatesCancelled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "candidates_cancelled_total",
		Help: "Total number of candidates withdrawn mid-processing",
	})
	m.crawlDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "crawl_duration_milliseconds",
		Help:    "Histogram of full per-candidate crawl duration in milliseconds",
		Buckets: m.histogramBuckets,
	})
	m.projectsCrawled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "projects_crawled_total",
		Help: "Total number of project records finalized",
	})
	m.trustScoreLowConf = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "trust_scores_low_confidence_total",
		Help: "Total number of trust scores tagged with low confidence",
	})

	m.fetchRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "fetch_requests_total",
		Help: "Total host API fetches by outcome",
	}, []string{"outcome"})
	m.fetchRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "fetch_retries_total",
		Help: "Total fetch attempts beyond the first",
	})
	m.fetchCacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "fetch_cache_hits_total",
		Help: "Total fetches served from the LRU response cache",
	})
	m.fetchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "fetch_duration_milliseconds",
		Help:    "Histogram of single fetch duration in milliseconds",
		Buckets: m.histogramBuckets,
	})
	m.rateLimitWaitMs = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "rate_limit_wait_milliseconds",
		Help:    "Histogram of time spent waiting on the host token bucket",
		Buckets: m.histogramBuckets,
	})

	m.signalOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "signal_outcomes_total",
		Help: "Extractor outcomes by extractor name and availability",
	}, []string{"extractor", "outcome"})
	m.llmCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "llm_calls_total",
		Help: "LLM capability invocations by outcome",
	}, []string{"outcome"})
	m.llmLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "llm_latency_milliseconds",
		Help:    "Histogram of LLM call latency in milliseconds",
		Buckets: m.histogramBuckets,
	})

	m.jobsEnqueued = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_enqueued_total",
		Help: "Jobs enqueued by stage",
	}, []string{"stage"})
	m.jobsCompleted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_completed_total",
		Help: "Jobs completed by stage",
	}, []string{"stage"})
	m.jobsFailed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_failed_total",
		Help: "Retryable job failures by stage",
	}, []string{"stage"})
	m.jobsDeadLetters = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_dead_lettered_total",
		Help: "Jobs moved to the dead letter state by stage",
	}, []string{"stage"})
	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "queue_depth",
		Help: "Current number of pending and running jobs",
	})
	m.claimLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "queue_claim_latency_milliseconds",
		Help:    "Histogram of job claim latency in milliseconds",
		Buckets: m.histogramBuckets,
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "worker_count",
		Help: "Current number of job workers",
	})
	m.jobDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "job_duration_milliseconds",
		Help:    "Histogram of job processing duration by stage",
		Buckets: m.histogramBuckets,
	}, []string{"stage"})
	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "worker_errors_total",
		Help: "Total worker processing errors",
	})

	m.eloMatches = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "elo_matches_total",
		Help: "Total sampled pairwise Elo matches applied",
	})
	m.eloResets = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "elo_resets_total",
		Help: "Total rating resets caused by candidate rescoring",
	})
	m.poolSize = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "pool_size",
		Help: "Current number of entries per role pool",
	}, []string{"role"})
	m.rankingErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ranking_errors_total",
		Help: "Total ranking engine errors",
	})
	m.snapshotReads = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "leaderboard_snapshot_reads_total",
		Help: "Total leaderboard snapshot reads",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_requests_total",
		Help: "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "errors_total",
		Help: "Errors by component and kind",
	}, []string{"component", "kind"})
}

// Package-level helpers operating on the global manager.

func RecordCandidateSubmitted() { globalManager.candidatesSubmitted.Inc() }
func RecordCandidateDuplicate() { globalManager.candidatesDuplicate.Inc() }
func RecordCandidateScored()    { globalManager.candidatesScored.Inc() }
func RecordCandidateUnscored()  { globalManager.candidatesUnscored.Inc() }
func RecordCandidateCancelled() { globalManager.candidatesCancelled.Inc() }

func RecordCrawlDuration(ms float64) { globalManager.crawlDuration.Observe(ms) }
func RecordProjectCrawled()          { globalManager.projectsCrawled.Inc() }
func RecordLowConfidenceTrustScore() { globalManager.trustScoreLowConf.Inc() }

func RecordFetch(outcome string)     { globalManager.fetchRequests.WithLabelValues(outcome).Inc() }
func RecordFetchRetry()              { globalManager.fetchRetries.Inc() }
func RecordFetchCacheHit()           { globalManager.fetchCacheHits.Inc() }
func RecordFetchDuration(ms float64) { globalManager.fetchDuration.Observe(ms) }
func RecordRateLimitWait(ms float64) { globalManager.rateLimitWaitMs.Observe(ms) }

func RecordSignalOutcome(extractor, outcome string) {
	globalManager.signalOutcomes.WithLabelValues(extractor, outcome).Inc()
}
func RecordLLMCall(outcome string) { globalManager.llmCalls.WithLabelValues(outcome).Inc() }
func RecordLLMLatency(ms float64)  { globalManager.llmLatency.Observe(ms) }

func RecordJobEnqueued(stage string)  { globalManager.jobsEnqueued.WithLabelValues(stage).Inc() }
func RecordJobCompleted(stage string) { globalManager.jobsCompleted.WithLabelValues(stage).Inc() }
func RecordJobFailed(stage string)    { globalManager.jobsFailed.WithLabelValues(stage).Inc() }
func RecordJobDeadLettered(stage string) {
	globalManager.jobsDeadLetters.WithLabelValues(stage).Inc()
}
func UpdateQueueDepth(depth int)    { globalManager.queueDepth.Set(float64(depth)) }
func RecordClaimLatency(ms float64) { globalManager.claimLatency.Observe(ms) }

func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }
func RecordJobDuration(stage string, ms float64) {
	globalManager.jobDuration.WithLabelValues(stage).Observe(ms)
}
func RecordWorkerError() { globalManager.workerErrors.Inc() }

func RecordEloMatch() { globalManager.eloMatches.Inc() }
func RecordEloReset() { globalManager.eloResets.Inc() }
func UpdatePoolSize(role string, n int) {
	globalManager.poolSize.WithLabelValues(role).Set(float64(n))
}
func RecordRankingError() { globalManager.rankingErrors.Inc() }
func RecordSnapshotRead() { globalManager.snapshotReads.Inc() }

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

func RecordErrorByComponent(component, kind string) {
	globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
}

// GetRegistry returns the custom registry for the /metrics handler.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
