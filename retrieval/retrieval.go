package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/hipporeg/graph"
)

// DefaultTopK is used when a request does not set TopK.
const DefaultTopK = 10

// Config holds retrieval engine configuration.
type Config struct {
	TopK            int
	Damping         float64
	MaxIterations   int
	Tolerance       float64
	UniformFallback bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	o := DefaultOptions()
	return Config{
		TopK:            DefaultTopK,
		Damping:         o.Damping,
		MaxIterations:   o.MaxIterations,
		Tolerance:       o.Tolerance,
		UniformFallback: o.UniformFallback,
	}
}

// Request configures a single retrieval. Zero TopK and Damping fall back
// to the engine configuration.
type Request struct {
	SeedIDs []string
	TopK    int
	Damping float64
}

// Trace records how a retrieval was answered.
type Trace struct {
	SeedsRequested int      `json:"seeds_requested"`
	SeedsValid     int      `json:"seeds_valid"`
	SeedsMissing   int      `json:"seeds_missing"`
	MissingRatio   float64  `json:"missing_ratio"`
	MissingSample  []string `json:"missing_sample,omitempty"`
	Outcome        Outcome  `json:"outcome"`
	Iterations     int      `json:"iterations"`
	Delta          float64  `json:"delta"`
	TopK           int      `json:"top_k"`
	Damping        float64  `json:"damping"`
	Fallback       string   `json:"fallback,omitempty"`
	ElapsedMs      int64    `json:"elapsed_ms"`
}

// Response is the ranked clauses plus the trace of the run.
type Response struct {
	Results []Result `json:"results"`
	Trace   *Trace   `json:"trace"`
}

// Engine answers retrieval queries over a read-only graph.
type Engine struct {
	cfg Config
}

// New creates a retrieval engine.
func New(cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Damping == 0 {
		cfg.Damping = DefaultDamping
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Retrieve resolves req.SeedIDs against g, runs personalized PageRank and
// returns the top clauses. g must not be mutated during the call.
//
// When seeds were requested but none exist in g, the uniform fallback
// answers the query unless it is disabled, in which case ErrNoValidSeeds
// is returned. Every other degenerate input yields a possibly empty
// result.
func (e *Engine) Retrieve(ctx context.Context, g *graph.Graph, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	damping := req.Damping
	if damping == 0 {
		damping = e.cfg.Damping
	}

	trace := &Trace{TopK: topK, Damping: damping}

	res := ResolveSeeds(g, req.SeedIDs)
	trace.SeedsRequested = res.Requested
	trace.SeedsValid = len(res.Valid)
	trace.SeedsMissing = len(res.Missing)
	trace.MissingRatio = res.MissingRatio()
	trace.MissingSample = res.Missing[:min(3, len(res.Missing))]

	seeds := res.Valid
	if res.Desynchronized() {
		// PageRank decides between the uniform fallback and an error.
		seeds = res.Missing
	}

	pr, err := PersonalizedPageRank(g, seeds, Options{
		Damping:         damping,
		MaxIterations:   e.cfg.MaxIterations,
		Tolerance:       e.cfg.Tolerance,
		UniformFallback: e.cfg.UniformFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving: %w", err)
	}

	trace.Outcome = pr.Outcome
	trace.Iterations = pr.Iterations
	trace.Delta = pr.Delta
	if pr.Cause != nil {
		trace.Fallback = pr.Cause.Error()
	}

	// Nothing was asked for, so the all-zero scores carry no ranking.
	results := []Result{}
	if !res.Empty() {
		results = append(results, Rank(g, pr.Scores, topK)...)
	}
	trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("retrieval: ranked",
		"seeds_valid", trace.SeedsValid,
		"seeds_missing", trace.SeedsMissing,
		"outcome", trace.Outcome,
		"iterations", trace.Iterations,
		"results", len(results),
		"elapsed_ms", trace.ElapsedMs)

	return &Response{Results: results, Trace: trace}, nil
}
