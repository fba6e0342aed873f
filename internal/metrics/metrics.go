// Package metrics tracks proxy-wide counters, histograms, and gauges:
// monotone counters for requests/responses/cache/worker outcomes, latency
// and body-size histograms, and in-flight/queue-depth gauges. State is kept
// in a resettable atomic-backed struct so the admin JSON surface
// (GET /metrics, POST /metrics/reset) can snapshot and clear it; a parallel
// set of Prometheus vectors mirrors the same events for scrape-based
// monitoring and is exposed separately, since Prometheus counters cannot be
// reset in place.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBucketBoundsMs defines the upper bound, in milliseconds, of each
// latency histogram bucket. The final bucket is implicitly +Inf.
var latencyBucketBoundsMs = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// bodySizeBucketBounds defines the upper bound, in bytes, of each body-size
// histogram bucket. The final bucket is implicitly +Inf.
var bodySizeBucketBounds = []float64{1 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 8 << 20, 32 << 20}

// histogram is a minimal fixed-bucket histogram with atomic counters per
// bucket, good enough for an admin snapshot without the bookkeeping of a
// full quantile estimator.
type histogram struct {
	bounds  []float64
	buckets []atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64 // sum of observed values, for computing an average
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{
		bounds:  bounds,
		buckets: make([]atomic.Int64, len(bounds)+1),
	}
}

func (h *histogram) observe(v float64) {
	h.count.Add(1)
	h.sum.Add(int64(v))
	for i, bound := range h.bounds {
		if v <= bound {
			h.buckets[i].Add(1)
			return
		}
	}
	h.buckets[len(h.buckets)-1].Add(1)
}

func (h *histogram) reset() {
	h.count.Store(0)
	h.sum.Store(0)
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
}

// HistogramSnapshot is the JSON-friendly view of a histogram's current state.
type HistogramSnapshot struct {
	Count   int64            `json:"count"`
	Sum     int64            `json:"sum"`
	Average float64          `json:"average"`
	Buckets map[string]int64 `json:"buckets"`
}

func (h *histogram) snapshot() HistogramSnapshot {
	count := h.count.Load()
	sum := h.sum.Load()
	avg := 0.0
	if count > 0 {
		avg = float64(sum) / float64(count)
	}
	buckets := make(map[string]int64, len(h.buckets))
	for i, bound := range h.bounds {
		buckets[formatBound(bound)] = h.buckets[i].Load()
	}
	buckets["+Inf"] = h.buckets[len(h.buckets)-1].Load()
	return HistogramSnapshot{Count: count, Sum: sum, Average: avg, Buckets: buckets}
}

func formatBound(b float64) string {
	if b == float64(int64(b)) {
		return itoa(int64(b))
	}
	return "~" + itoa(int64(b))
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Registry holds all proxy metrics state. A single process-wide instance is
// created by New and threaded through the pipeline.
type Registry struct {
	mu sync.RWMutex

	requestsTotal   atomic.Int64
	responsesByCode map[int]*atomic.Int64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	workerSuccesses atomic.Int64
	workerFailures  atomic.Int64

	decompressionFailures atomic.Int64
	cancellations         atomic.Int64

	latency  *histogram
	bodySize *histogram

	inFlight   atomic.Int64
	queueDepth atomic.Int64

	prom *promMetrics
}

// promMetrics mirrors the Registry's counters as Prometheus vectors so the
// proxy can be scraped in addition to exposing its own JSON snapshot.
type promMetrics struct {
	requests    *prometheus.CounterVec
	responses   *prometheus.CounterVec
	cacheEvents *prometheus.CounterVec
	workerJobs  *prometheus.CounterVec
	latency     prometheus.Histogram
	bodySize    prometheus.Histogram
	inFlight    prometheus.Gauge
	queueDepth  prometheus.Gauge
}

func newPromMetrics() *promMetrics {
	return &promMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaproxy_requests_total",
			Help: "Total requests admitted to the pipeline",
		}, []string{"method"}),
		responses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaproxy_responses_total",
			Help: "Total responses by status code",
		}, []string{"code"}),
		cacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaproxy_cache_events_total",
			Help: "Cache hit/miss events",
		}, []string{"result"}),
		workerJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaproxy_worker_jobs_total",
			Help: "Worker pool decompression job outcomes",
		}, []string{"outcome"}),
		latency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediaproxy_request_latency_ms",
			Help:    "End-to-end request latency in milliseconds",
			Buckets: latencyBucketBoundsMs,
		}),
		bodySize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediaproxy_response_body_bytes",
			Help:    "Response body size in bytes",
			Buckets: bodySizeBucketBounds,
		}),
		inFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mediaproxy_in_flight_requests",
			Help: "Requests currently being handled",
		}),
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mediaproxy_worker_queue_depth",
			Help: "Current worker pool queue depth",
		}),
	}
}

// New creates a Registry with fresh Prometheus collectors. Exactly one
// Registry should exist per process, since Prometheus collector names are
// registered globally.
func New() *Registry {
	return &Registry{
		responsesByCode: make(map[int]*atomic.Int64),
		latency:         newHistogram(latencyBucketBoundsMs),
		bodySize:        newHistogram(bodySizeBucketBounds),
		prom:            newPromMetrics(),
	}
}

// RecordRequest marks the admission of a new request.
func (r *Registry) RecordRequest(method string) {
	r.requestsTotal.Add(1)
	r.inFlight.Add(1)
	r.prom.requests.WithLabelValues(method).Inc()
	r.prom.inFlight.Inc()
}

// RecordResponse records a completed exchange: its status code, latency,
// and body size. Always pairs with a prior RecordRequest.
func (r *Registry) RecordResponse(code int, latencyMs float64, bodyBytes int64) {
	r.inFlight.Add(-1)
	r.prom.inFlight.Dec()

	r.mu.Lock()
	counter, ok := r.responsesByCode[code]
	if !ok {
		counter = &atomic.Int64{}
		r.responsesByCode[code] = counter
	}
	r.mu.Unlock()
	counter.Add(1)

	r.latency.observe(latencyMs)
	r.bodySize.observe(float64(bodyBytes))

	r.prom.responses.WithLabelValues(itoa(int64(code))).Inc()
	r.prom.latency.Observe(latencyMs)
	r.prom.bodySize.Observe(float64(bodyBytes))
}

// RecordCacheHit/RecordCacheMiss track response cache outcomes.
func (r *Registry) RecordCacheHit() {
	r.cacheHits.Add(1)
	r.prom.cacheEvents.WithLabelValues("hit").Inc()
}

func (r *Registry) RecordCacheMiss() {
	r.cacheMisses.Add(1)
	r.prom.cacheEvents.WithLabelValues("miss").Inc()
}

// RecordWorkerSuccess/RecordWorkerFailure track worker pool task outcomes.
func (r *Registry) RecordWorkerSuccess() {
	r.workerSuccesses.Add(1)
	r.prom.workerJobs.WithLabelValues("success").Inc()
}

func (r *Registry) RecordWorkerFailure() {
	r.workerFailures.Add(1)
	r.prom.workerJobs.WithLabelValues("failure").Inc()
}

// RecordDecompressionFailure tracks decompression failures
// (never fatal, but counted for observability).
func (r *Registry) RecordDecompressionFailure() {
	r.decompressionFailures.Add(1)
}

// RecordCancellation tracks client-abort occurrences.
func (r *Registry) RecordCancellation() {
	r.cancellations.Add(1)
}

// SetQueueDepth reports the worker pool's current queue depth gauge.
func (r *Registry) SetQueueDepth(depth int) {
	r.queueDepth.Store(int64(depth))
	r.prom.queueDepth.Set(float64(depth))
}

// Snapshot is the JSON-serializable view returned by GET /metrics.
type Snapshot struct {
	RequestsTotal         int64             `json:"requestsTotal"`
	ResponsesByCode       map[string]int64  `json:"responsesByCode"`
	CacheHits             int64             `json:"cacheHits"`
	CacheMisses           int64             `json:"cacheMisses"`
	WorkerSuccesses       int64             `json:"workerSuccesses"`
	WorkerFailures        int64             `json:"workerFailures"`
	DecompressionFailures int64             `json:"decompressionFailures"`
	Cancellations         int64             `json:"cancellations"`
	Latency               HistogramSnapshot `json:"latencyMs"`
	BodySize              HistogramSnapshot `json:"bodySizeBytes"`
	InFlight              int64             `json:"inFlight"`
	QueueDepth            int64             `json:"queueDepth"`
}

// Snapshot returns the current metrics state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	byCode := make(map[string]int64, len(r.responsesByCode))
	for code, counter := range r.responsesByCode {
		byCode[itoa(int64(code))] = counter.Load()
	}
	r.mu.RUnlock()

	return Snapshot{
		RequestsTotal:         r.requestsTotal.Load(),
		ResponsesByCode:       byCode,
		CacheHits:             r.cacheHits.Load(),
		CacheMisses:           r.cacheMisses.Load(),
		WorkerSuccesses:       r.workerSuccesses.Load(),
		WorkerFailures:        r.workerFailures.Load(),
		DecompressionFailures: r.decompressionFailures.Load(),
		Cancellations:         r.cancellations.Load(),
		Latency:               r.latency.snapshot(),
		BodySize:              r.bodySize.snapshot(),
		InFlight:              r.inFlight.Load(),
		QueueDepth:            r.queueDepth.Load(),
	}
}

// Reset clears all monotone counters and histograms. In-flight and queue
// depth gauges are left untouched since they reflect live state rather than
// accumulated history.
func (r *Registry) Reset() {
	r.requestsTotal.Store(0)
	r.cacheHits.Store(0)
	r.cacheMisses.Store(0)
	r.workerSuccesses.Store(0)
	r.workerFailures.Store(0)
	r.decompressionFailures.Store(0)
	r.cancellations.Store(0)
	r.latency.reset()
	r.bodySize.reset()

	r.mu.Lock()
	r.responsesByCode = make(map[int]*atomic.Int64)
	r.mu.Unlock()
}
