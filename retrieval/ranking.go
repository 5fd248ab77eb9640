package retrieval

import (
	"cmp"
	"slices"

	"github.com/brunobiangulo/hipporeg/graph"
)

// Result is one ranked clause.
type Result struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Section  string         `json:"section"`
	Severity graph.Severity `json:"severity"`
}

// ClauseLookup resolves node attributes for ranking.
type ClauseLookup interface {
	Node(id string) (graph.Node, bool)
}

// Rank orders scores by descending score, breaking ties by ascending id,
// and returns at most topK clause nodes. Placeholder nodes are skipped.
// Fewer than topK results are returned when the graph holds fewer clauses.
func Rank(nodes ClauseLookup, scores map[string]float64, topK int) []Result {
	if topK <= 0 || len(scores) == 0 {
		return nil
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for id, s := range scores {
		ranked = append(ranked, scored{id, s})
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	results := make([]Result, 0, min(topK, len(ranked)))
	for _, r := range ranked {
		if len(results) == topK {
			break
		}
		n, ok := nodes.Node(r.id)
		if !ok || !n.IsClause() {
			continue
		}
		results = append(results, Result{
			ID:       r.id,
			Text:     n.Clause.Text,
			Score:    r.score,
			Section:  n.Clause.Section,
			Severity: n.Clause.Severity,
		})
	}
	return results
}
