package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Ingestion

	IngestionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_ingestion_attempts_total",
			Help: "Ingestion attempts by outcome (completed, failed, superseded)",
		},
		[]string{"outcome"},
	)

	IngestionStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_ingestion_stage_duration_seconds",
			Help:    "Time spent per ingestion stage",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	OptimizerReductionPercent = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_optimizer_reduction_percent",
			Help:    "Size reduction achieved by the optimizer",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"strategy"},
	)

	EmbeddingRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_embedding_retries_total",
			Help: "Embedding calls retried, by reason",
		},
		[]string{"reason"},
	)

	ChunksStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "knowledge_chunks_stored_total",
			Help: "Chunks written to the vector store",
		},
	)

	KnowledgeFilesStuck = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "knowledge_files_stuck",
			Help: "Non-terminal knowledge files older than the stuck threshold at the last check",
		},
	)

	// Retrieval

	VectorQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_vector_query_duration_seconds",
			Help:    "Nearest-neighbour query latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"status"},
	)
)
