package retrieval

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/brunobiangulo/hipporeg/graph"
)

// Default PageRank parameters.
const (
	DefaultDamping       = 0.85
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-6

	// Scores assigned by the heuristic fallback.
	heuristicSeedScore  = 1.0
	heuristicOtherScore = 0.001
)

// ErrNoValidSeeds is returned when none of the requested seeds exist in the
// graph and the uniform fallback is disabled.
var ErrNoValidSeeds = errors.New("retrieval: no valid seeds")

// Outcome describes how a PageRank run ended.
type Outcome string

const (
	OutcomeConverged  Outcome = "converged"
	OutcomePartial    Outcome = "partial"
	OutcomeNoSeeds    Outcome = "no_seeds"
	OutcomeEmptyGraph Outcome = "empty_graph"
	OutcomeUniform    Outcome = "uniform"
	OutcomeHeuristic  Outcome = "heuristic"
)

// Options configures a personalized PageRank run.
type Options struct {
	Damping       float64
	MaxIterations int
	Tolerance     float64
	// UniformFallback returns a uniform distribution when no seed is in the
	// graph. When false that case fails with ErrNoValidSeeds.
	UniformFallback bool
}

// DefaultOptions returns damping 0.85, 100 iterations, tolerance 1e-6 and
// the uniform fallback enabled.
func DefaultOptions() Options {
	return Options{
		Damping:         DefaultDamping,
		MaxIterations:   DefaultMaxIterations,
		Tolerance:       DefaultTolerance,
		UniformFallback: true,
	}
}

// PageRankResult is a score for every node of the graph plus how the run
// ended.
type PageRankResult struct {
	Scores       map[string]float64
	Outcome      Outcome
	Iterations   int
	Delta        float64
	ValidSeeds   []string
	MissingSeeds []string
	// Cause is set when the heuristic fallback was used.
	Cause error
}

// PersonalizedPageRank ranks every node of g by its relevance to seeds.
// The walk restarts on the valid seeds with probability 1-Damping and
// follows an out-edge with probability proportional to its weight.
// Dangling mass is redistributed over the seeds, so scores sum to 1.
//
// Degenerate inputs never fail: an empty graph yields an empty map, no
// seeds yields all-zero scores, seeds absent from g yield a uniform
// distribution and non-convergence yields the best partial iterate. Any
// other numerical failure falls back to a seed-biased constant score.
func PersonalizedPageRank(g *graph.Graph, seeds []string, opts Options) (*PageRankResult, error) {
	n := g.Len()
	res := &PageRankResult{Scores: make(map[string]float64, n)}

	if n == 0 {
		res.Outcome = OutcomeEmptyGraph
		return res, nil
	}

	if len(seeds) == 0 {
		for i := range n {
			res.Scores[g.NodeAt(i).ID] = 0
		}
		res.Outcome = OutcomeNoSeeds
		return res, nil
	}

	var seedIdx []int
	seen := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		if seen[id] {
			continue
		}
		seen[id] = true
		if i, ok := g.Index(id); ok {
			seedIdx = append(seedIdx, i)
			res.ValidSeeds = append(res.ValidSeeds, id)
		} else {
			res.MissingSeeds = append(res.MissingSeeds, id)
		}
	}
	if len(res.MissingSeeds) > 0 {
		slog.Warn("ppr: seeds not in graph",
			"missing", len(res.MissingSeeds),
			"requested", len(seen),
			"sample", res.MissingSeeds[:min(3, len(res.MissingSeeds))])
	}

	if len(seedIdx) == 0 {
		if !opts.UniformFallback {
			return nil, ErrNoValidSeeds
		}
		u := 1 / float64(n)
		for i := range n {
			res.Scores[g.NodeAt(i).ID] = u
		}
		res.Outcome = OutcomeUniform
		return res, nil
	}

	x, iters, delta, converged, err := powerIterate(g, seedIdx, opts)
	if err != nil {
		slog.Warn("ppr: falling back to heuristic scores", "error", err)
		for i := range n {
			res.Scores[g.NodeAt(i).ID] = heuristicOtherScore
		}
		for _, i := range seedIdx {
			res.Scores[g.NodeAt(i).ID] = heuristicSeedScore
		}
		res.Outcome = OutcomeHeuristic
		res.Cause = err
		return res, nil
	}

	for i, v := range x {
		res.Scores[g.NodeAt(i).ID] = v
	}
	res.Iterations = iters
	res.Delta = delta
	if converged {
		res.Outcome = OutcomeConverged
	} else {
		res.Outcome = OutcomePartial
		slog.Warn("ppr: did not converge, returning partial scores",
			"iterations", iters, "delta", delta, "tolerance", opts.Tolerance)
	}
	return res, nil
}

// powerIterate runs the power method in index space. A panic or a
// non-finite iterate is reported as an error.
func powerIterate(g *graph.Graph, seedIdx []int, opts Options) (x []float64, iters int, delta float64, converged bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ppr: panic during iteration: %v", r)
		}
	}()

	alpha := opts.Damping
	if !(alpha > 0 && alpha < 1) {
		return nil, 0, 0, false, fmt.Errorf("ppr: damping %v outside (0,1)", alpha)
	}
	if opts.MaxIterations <= 0 {
		return nil, 0, 0, false, fmt.Errorf("ppr: max iterations %d must be positive", opts.MaxIterations)
	}

	n := g.Len()
	adj := g.Adjacency()
	outW := make([]float64, n)
	for i, arcs := range adj {
		for _, a := range arcs {
			outW[i] += a.Weight
		}
	}

	p := make([]float64, n)
	for _, i := range seedIdx {
		p[i] = 1 / float64(len(seedIdx))
	}

	x = make([]float64, n)
	for i := range x {
		x[i] = 1 / float64(n)
	}
	next := make([]float64, n)

	best := slices.Clone(x)
	bestDelta := math.Inf(1)

	for iters = 1; iters <= opts.MaxIterations; iters++ {
		clear(next)
		var dangling float64
		for u, arcs := range adj {
			if outW[u] == 0 {
				dangling += x[u]
				continue
			}
			share := alpha * x[u] / outW[u]
			for _, a := range arcs {
				next[a.To] += share * a.Weight
			}
		}
		restart := (1 - alpha) + alpha*dangling
		delta = 0
		for v := range next {
			next[v] += restart * p[v]
			if math.IsNaN(next[v]) || math.IsInf(next[v], 0) {
				return nil, iters, 0, false, fmt.Errorf("ppr: non-finite score at iteration %d", iters)
			}
			delta += math.Abs(next[v] - x[v])
		}
		x, next = next, x

		if delta < bestDelta {
			bestDelta = delta
			copy(best, x)
		}
		if delta < opts.Tolerance {
			return x, iters, delta, true, nil
		}
	}
	return best, opts.MaxIterations, bestDelta, false, nil
}
