// Package metrics exports retrieval engine metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragd"

// Query outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeUnavailable = "unavailable"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
)

// Recorder holds the engine's collectors on a private registry. A nil *Recorder
// discards every observation.
type Recorder struct {
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheEntries   prometheus.Gauge

	chunkLoads    *prometheus.CounterVec
	chunkRows     *prometheus.HistogramVec
	loadLatency   *prometheus.HistogramVec
	droppedRows   *prometheus.CounterVec
	queries       *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec
	embedFailures prometheus.Counter
}

// NewRecorder creates a Recorder with its own registry, including Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	latency := []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

	r := &Recorder{
		registry: reg,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Embedding cache lookups that returned a fresh entry",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Embedding cache lookups that found no fresh entry",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
			Help: "Organizations evicted to make room for another",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "entries",
			Help: "Organizations currently held in the embedding cache",
		}),
		chunkLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "chunk_loads_total",
			Help: "Chunk loads from the store by scope (all, scoped)",
		}, []string{"scope"}),
		chunkRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "chunk_load_rows",
			Help:    "Usable chunks per load",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"scope"}),
		loadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "chunk_load_seconds",
			Help:    "Chunk load latency in seconds",
			Buckets: latency,
		}, []string{"scope"}),
		droppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "dropped_rows_total",
			Help: "Chunk rows skipped during load by reason",
		}, []string{"reason"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "queries_total",
			Help: "Retrieval queries by kind and outcome",
		}, []string{"kind", "outcome"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "query_seconds",
			Help:    "Retrieval query latency in seconds",
			Buckets: latency,
		}, []string{"kind"}),
		embedFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "embed_failures_total",
			Help: "Query embedding calls that failed or timed out",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cacheHits, r.cacheMisses, r.cacheEvictions, r.cacheEntries,
		r.chunkLoads, r.chunkRows, r.loadLatency, r.droppedRows,
		r.queries, r.queryLatency, r.embedFailures,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) CacheHit() {
	if r != nil {
		r.cacheHits.Inc()
	}
}

func (r *Recorder) CacheMiss() {
	if r != nil {
		r.cacheMisses.Inc()
	}
}

func (r *Recorder) CacheEviction() {
	if r != nil {
		r.cacheEvictions.Inc()
	}
}

// CacheEntries sets the number of cached organizations.
func (r *Recorder) CacheEntries(n int) {
	if r != nil {
		r.cacheEntries.Set(float64(n))
	}
}

// ChunkLoad records one store load.
func (r *Recorder) ChunkLoad(scope string, rows int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.chunkLoads.WithLabelValues(scope).Inc()
	r.chunkRows.WithLabelValues(scope).Observe(float64(rows))
	r.loadLatency.WithLabelValues(scope).Observe(elapsed.Seconds())
}

// DroppedRow records a chunk row skipped during load.
func (r *Recorder) DroppedRow(reason string) {
	if r != nil {
		r.droppedRows.WithLabelValues(reason).Inc()
	}
}

// Query records a finished query.
func (r *Recorder) Query(kind, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.queries.WithLabelValues(kind, outcome).Inc()
	r.queryLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (r *Recorder) EmbedFailure() {
	if r != nil {
		r.embedFailures.Inc()
	}
}
