package retrieval

import (
	"errors"
	"math"
	"testing"

	"github.com/brunobiangulo/hipporeg/graph"
)

func clauseNode(g *graph.Graph, id string) {
	g.AddNode(id, graph.Clause{Text: "text of " + id, Section: "s", Severity: graph.SeverityMedium})
}

func mustEdge(t *testing.T, g *graph.Graph, from, to string, r graph.Relation, w float64) {
	t.Helper()
	if err := g.AddEdge(graph.Edge{Subject: from, Object: to, Relation: r, Weight: w}); err != nil {
		t.Fatalf("AddEdge(%s->%s): %v", from, to, err)
	}
}

// threeClauseGraph has A->B asserted, A->C similar and an isolated D.
func threeClauseGraph(t *testing.T) *graph.Graph {
	g := graph.New()
	for _, id := range []string{"A", "B", "C", "D"} {
		clauseNode(g, id)
	}
	mustEdge(t, g, "A", "B", graph.RelAsserted, 1.0)
	mustEdge(t, g, "A", "C", graph.RelSimilar, 0.1)
	return g
}

func sum(scores map[string]float64) float64 {
	var s float64
	for _, v := range scores {
		s += v
	}
	return s
}

func TestPageRankSumsToOne(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		clauseNode(g, id)
	}
	mustEdge(t, g, "a", "b", graph.RelAsserted, 1)
	mustEdge(t, g, "b", "c", graph.RelAsserted, 1)
	mustEdge(t, g, "c", "a", graph.RelAdjacent, 1)
	mustEdge(t, g, "c", "d", graph.RelSimilar, 0.1)
	mustEdge(t, g, "a", "b", graph.RelAsserted, 1)
	mustEdge(t, g, "e", "ghost", graph.RelAsserted, 1)

	seedSets := [][]string{{"a"}, {"d"}, {"a", "e"}, {"ghost"}, {"a", "b", "c", "d", "e", "ghost"}}
	for _, seeds := range seedSets {
		res, err := PersonalizedPageRank(g, seeds, DefaultOptions())
		if err != nil {
			t.Fatalf("seeds %v: %v", seeds, err)
		}
		if len(res.Scores) != g.Len() {
			t.Errorf("seeds %v: %d scores for %d nodes", seeds, len(res.Scores), g.Len())
		}
		if s := sum(res.Scores); math.Abs(s-1) > 1e-6 {
			t.Errorf("seeds %v: scores sum to %v", seeds, s)
		}
		for id, v := range res.Scores {
			if v < 0 {
				t.Errorf("seeds %v: score[%s] = %v is negative", seeds, id, v)
			}
		}
	}
}

func TestPageRankEmptySeeds(t *testing.T) {
	g := threeClauseGraph(t)
	res, err := PersonalizedPageRank(g, nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeNoSeeds {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeNoSeeds)
	}
	if len(res.Scores) != g.Len() {
		t.Fatalf("expected a score for each of %d nodes, got %d", g.Len(), len(res.Scores))
	}
	for id, v := range res.Scores {
		if v != 0 {
			t.Errorf("score[%s] = %v, want 0", id, v)
		}
	}
}

func TestPageRankEmptyGraph(t *testing.T) {
	res, err := PersonalizedPageRank(graph.New(), []string{"a"}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Scores) != 0 || res.Outcome != OutcomeEmptyGraph {
		t.Errorf("got %v (%s), want empty mapping", res.Scores, res.Outcome)
	}
}

func TestPageRankNoValidSeeds(t *testing.T) {
	g := threeClauseGraph(t)

	res, err := PersonalizedPageRank(g, []string{"x", "y"}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeUniform {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeUniform)
	}
	want := 1 / float64(g.Len())
	for id, v := range res.Scores {
		if math.Abs(v-want) > 1e-12 {
			t.Errorf("score[%s] = %v, want %v", id, v, want)
		}
	}
	if math.Abs(sum(res.Scores)-1) > 1e-9 {
		t.Errorf("uniform scores sum to %v", sum(res.Scores))
	}
	if len(res.MissingSeeds) != 2 {
		t.Errorf("missing seeds = %v", res.MissingSeeds)
	}

	opts := DefaultOptions()
	opts.UniformFallback = false
	if _, err := PersonalizedPageRank(g, []string{"x"}, opts); !errors.Is(err, ErrNoValidSeeds) {
		t.Errorf("expected ErrNoValidSeeds with fallback disabled, got %v", err)
	}
}

func TestPageRankAssertedDominatesSimilar(t *testing.T) {
	g := threeClauseGraph(t)
	res, err := PersonalizedPageRank(g, []string{"A"}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	s := res.Scores
	if !(s["B"] > s["C"]) {
		t.Errorf("score(B)=%v should exceed score(C)=%v", s["B"], s["C"])
	}
	if !(s["C"] > s["D"]) {
		t.Errorf("score(C)=%v should exceed unreferenced score(D)=%v", s["C"], s["D"])
	}
	if !(s["A"] > s["B"]) {
		t.Errorf("seed score(A)=%v should exceed score(B)=%v", s["A"], s["B"])
	}
}

func TestPageRankIgnoresMissingSeeds(t *testing.T) {
	g := threeClauseGraph(t)
	single, err := PersonalizedPageRank(g, []string{"A"}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	mixed, err := PersonalizedPageRank(g, []string{"nope", "A"}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	for id, v := range single.Scores {
		if mixed.Scores[id] != v {
			t.Errorf("score[%s]: mixed %v != single %v", id, mixed.Scores[id], v)
		}
	}
	if len(mixed.ValidSeeds) != 1 || mixed.ValidSeeds[0] != "A" {
		t.Errorf("valid seeds = %v, want [A]", mixed.ValidSeeds)
	}
}

func TestPageRankDuplicateEdgeStrengthensPath(t *testing.T) {
	g := threeClauseGraph(t)
	before, _ := PersonalizedPageRank(g, []string{"A"}, DefaultOptions())

	mustEdge(t, g, "A", "C", graph.RelSimilar, 0.1)
	after, _ := PersonalizedPageRank(g, []string{"A"}, DefaultOptions())

	if !(after.Scores["C"] > before.Scores["C"]) {
		t.Errorf("duplicate edge did not raise score(C): %v -> %v", before.Scores["C"], after.Scores["C"])
	}
}

func TestPageRankPartialOnNonConvergence(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"a", "b", "c"} {
		clauseNode(g, id)
	}
	mustEdge(t, g, "a", "b", graph.RelAsserted, 1)
	mustEdge(t, g, "b", "c", graph.RelAsserted, 1)
	mustEdge(t, g, "c", "a", graph.RelAsserted, 1)

	opts := DefaultOptions()
	opts.MaxIterations = 2
	opts.Tolerance = 1e-15
	res, err := PersonalizedPageRank(g, []string{"a"}, opts)
	if err != nil {
		t.Fatalf("non-convergence must not fail: %v", err)
	}
	if res.Outcome != OutcomePartial {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomePartial)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if len(res.Scores) != 3 || math.Abs(sum(res.Scores)-1) > 1e-9 {
		t.Errorf("partial scores = %v", res.Scores)
	}
}

func TestPageRankHeuristicFallback(t *testing.T) {
	g := threeClauseGraph(t)
	opts := DefaultOptions()
	opts.Damping = 1.5

	res, err := PersonalizedPageRank(g, []string{"A", "missing"}, opts)
	if err != nil {
		t.Fatalf("heuristic fallback must not fail: %v", err)
	}
	if res.Outcome != OutcomeHeuristic || res.Cause == nil {
		t.Fatalf("outcome = %s, cause = %v", res.Outcome, res.Cause)
	}
	if res.Scores["A"] != heuristicSeedScore {
		t.Errorf("seed score = %v, want %v", res.Scores["A"], heuristicSeedScore)
	}
	for _, id := range []string{"B", "C", "D"} {
		if res.Scores[id] != heuristicOtherScore {
			t.Errorf("score[%s] = %v, want %v", id, res.Scores[id], heuristicOtherScore)
		}
	}
	if _, ok := res.Scores["missing"]; ok {
		t.Error("heuristic scored a node absent from the graph")
	}
}
