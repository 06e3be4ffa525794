// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring plauder.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// LoadBuckets covers model loads, which include downloads of several GB.
var LoadBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}

// EmbeddingBuckets covers single-text feature extraction.
var EmbeddingBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plauder_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plauder_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks active SSE and WebSocket connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plauder_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// EngineState reports the engine lifecycle state
	// (0 absent, 1 loading, 2 ready, 3 closed).
	EngineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plauder_engine_state",
			Help: "Engine lifecycle state",
		},
	)

	// EngineLoadsTotal counts model load attempts by result.
	EngineLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plauder_engine_loads_total",
			Help: "Model load attempts",
		},
		[]string{"backend", "result"},
	)

	// EngineLoadDuration records model load time in seconds.
	EngineLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plauder_engine_load_duration_seconds",
			Help:    "Model load duration",
			Buckets: LoadBuckets,
		},
		[]string{"backend"},
	)

	// EngineQueueDepth tracks generation jobs waiting for the worker.
	EngineQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plauder_engine_queue_depth",
			Help: "Generation jobs waiting for the engine worker",
		},
	)

	// ChatStreamsTotal counts completion streams by result
	// (completed, failed, abandoned, rejected).
	ChatStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plauder_chat_streams_total",
			Help: "Completion streams",
		},
		[]string{"result"},
	)

	// ChatChunksTotal counts stream chunks delivered to consumers.
	ChatChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plauder_chat_chunks_total",
			Help: "Stream chunks delivered",
		},
	)

	// ChatFirstChunkLatency records the time until the first chunk arrived.
	ChatFirstChunkLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plauder_chat_first_chunk_seconds",
			Help:    "Time to first stream chunk",
			Buckets: LLMBuckets,
		},
	)

	// EmbeddingsTotal counts embedding calls by backend and result.
	EmbeddingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plauder_embeddings_total",
			Help: "Embedding calls",
		},
		[]string{"backend", "result"},
	)

	// EmbeddingDuration records embedding latency in seconds.
	EmbeddingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plauder_embedding_duration_seconds",
			Help:    "Embedding duration",
			Buckets: EmbeddingBuckets,
		},
		[]string{"backend"},
	)

	// RetrievalChunksIndexed counts document chunks written to the vector store.
	RetrievalChunksIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plauder_retrieval_chunks_indexed_total",
			Help: "Document chunks indexed",
		},
		[]string{"store"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plauder_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tenant"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		EngineState,
		EngineLoadsTotal,
		EngineLoadDuration,
		EngineQueueDepth,
		ChatStreamsTotal,
		ChatChunksTotal,
		ChatFirstChunkLatency,
		EmbeddingsTotal,
		EmbeddingDuration,
		RetrievalChunksIndexed,
		RateLimitRejectedTotal,
	)
}
