package hipporeg

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelJurisdiction = "jurisdiction"
	labelOutcome      = "outcome"
	labelResult       = "result"
)

var seedCandidates = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hipporeg_seed_candidates_total",
	Help: "Candidate seed ids received by retrieval",
}, []string{labelJurisdiction})

var seedMissing = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hipporeg_seed_missing_total",
	Help: "Candidate seed ids absent from the graph",
}, []string{labelJurisdiction})

var pprOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hipporeg_ppr_outcomes_total",
	Help: "Personalized PageRank runs by outcome",
}, []string{labelJurisdiction, labelOutcome})

var ingestBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hipporeg_ingest_batches_total",
	Help: "Ingestion batches by result",
}, []string{labelJurisdiction, labelResult})

var retrieveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "hipporeg_retrieve_duration_seconds",
	Help:    "Latency of retrieval calls",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
}, []string{labelJurisdiction})

var graphNodes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "hipporeg_graph_nodes",
	Help: "Nodes in the served graph",
}, []string{labelJurisdiction})

var graphEdges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "hipporeg_graph_edges",
	Help: "Edges in the served graph",
}, []string{labelJurisdiction})

func init() {
	prometheus.MustRegister(
		seedCandidates,
		seedMissing,
		pprOutcomes,
		ingestBatches,
		retrieveDuration,
		graphNodes,
		graphEdges,
	)
}

// Ingestion results.
const (
	ingestApplied  = "applied"
	ingestSkipped  = "skipped"
	ingestConflict = "conflict"
	ingestFailed   = "failed"
)
