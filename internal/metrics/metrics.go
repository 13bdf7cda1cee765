package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_documents_ingested_total",
		Help: "Total number of documents ingested into the pipeline",
	})

	chunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_chunks_indexed_total",
		Help: "Total number of chunks written to the vector index",
	})

	documentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_documents_deleted_total",
		Help: "Total number of documents removed from the pipeline",
	})

	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_queries_total",
			Help: "Total number of queries processed",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_query_duration_seconds",
		Help:    "End to end query latency including generation",
		Buckets: prometheus.DefBuckets,
	})

	generationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_generation_failures_total",
		Help: "Total number of failed generation attempts",
	})

	indexEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rag_index_entries",
		Help: "Current number of entries in the vector index",
	})
)

// Handler 返回Prometheus指标HTTP处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

func DocumentIngested(chunkCount int) {
	documentsIngested.Inc()
	chunksIndexed.Add(float64(chunkCount))
}

func DocumentDeleted() {
	documentsDeleted.Inc()
}

func QueryServed(cacheHit bool, duration time.Duration) {
	if cacheHit {
		queriesTotal.WithLabelValues("hit").Inc()
	} else {
		queriesTotal.WithLabelValues("miss").Inc()
	}
	queryDuration.Observe(duration.Seconds())
}

func QueryFailed() {
	queriesTotal.WithLabelValues("error").Inc()
}

func GenerationFailed() {
	generationFailures.Inc()
}

func SetIndexEntries(count int) {
	indexEntries.Set(float64(count))
}
