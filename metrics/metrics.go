package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContextRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupchat_context_requests_total",
		Help: "Context fetches by outcome (hit, empty, degraded).",
	}, []string{"outcome"})

	ContextLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "groupchat_context_latency_seconds",
		Help:    "End-to-end latency of the per-turn context fetch.",
		Buckets: []float64{0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6},
	})

	ContextBudgetOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_context_budget_overruns_total",
		Help: "Context fetches that exceeded the soft latency budget.",
	})

	SearchBranchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupchat_search_branch_failures_total",
		Help: "Search stage failures by branch (vector, rerank).",
	}, []string{"branch"})

	DocumentsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_documents_ingested_total",
		Help: "Documents successfully ingested.",
	})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "groupchat_ingest_duration_seconds",
		Help:    "Time spent in the ingestion pipeline per document.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	IndexRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_index_rebuilds_total",
		Help: "BM25 snapshot rebuilds.",
	})
)
