package retrieval

import (
	"slices"
	"testing"

	"github.com/brunobiangulo/hipporeg/graph"
)

func TestRankOrdersAndBreaksTies(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"a", "b", "c", "d"} {
		clauseNode(g, id)
	}
	scores := map[string]float64{"d": 0.4, "c": 0.2, "b": 0.2, "a": 0.2}

	got := Rank(g, scores, 10)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if want := []string{"d", "a", "b", "c"}; !slices.Equal(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestRankSkipsPlaceholders(t *testing.T) {
	g := graph.New()
	clauseNode(g, "a")
	clauseNode(g, "b")
	mustEdge(t, g, "a", "ghost", graph.RelAsserted, 1)

	got := Rank(g, map[string]float64{"ghost": 0.9, "a": 0.05, "b": 0.05, "absent": 1}, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 results with no padding, got %d: %+v", len(got), got)
	}
	for _, r := range got {
		if r.ID == "ghost" || r.ID == "absent" {
			t.Errorf("non-clause node %q returned", r.ID)
		}
	}
}

func TestRankTopK(t *testing.T) {
	g := graph.New()
	scores := make(map[string]float64)
	for i, id := range []string{"a", "b", "c", "d", "e", "f"} {
		clauseNode(g, id)
		scores[id] = float64(i)
	}

	tests := []struct {
		name string
		topK int
		want []string
	}{
		{"top three", 3, []string{"f", "e", "d"}},
		{"more than available", 50, []string{"f", "e", "d", "c", "b", "a"}},
		{"zero", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, r := range Rank(g, scores, tt.topK) {
				ids = append(ids, r.ID)
			}
			if !slices.Equal(ids, tt.want) {
				t.Errorf("Rank(topK=%d) = %v, want %v", tt.topK, ids, tt.want)
			}
		})
	}
}

func TestRankCarriesAttributes(t *testing.T) {
	g := graph.New()
	g.AddNode("c1", graph.Clause{
		Text:     "Keep records for five years.",
		Section:  "7.2",
		Severity: graph.SeverityCritical,
	})
	got := Rank(g, map[string]float64{"c1": 0.7}, 1)
	want := Result{ID: "c1", Text: "Keep records for five years.", Score: 0.7, Section: "7.2", Severity: graph.SeverityCritical}
	if len(got) != 1 || got[0] != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResolveSeeds(t *testing.T) {
	g := threeClauseGraph(t)

	tests := []struct {
		name        string
		candidates  []string
		wantValid   []string
		wantMissing []string
		empty       bool
		desync      bool
	}{
		{"none requested", nil, nil, nil, true, false},
		{"all present keeps order", []string{"C", "A", "B"}, []string{"C", "A", "B"}, nil, false, false},
		{"partial overlap", []string{"x", "A", "y"}, []string{"A"}, []string{"x", "y"}, false, false},
		{"all missing", []string{"x", "y"}, nil, []string{"x", "y"}, false, true},
		{"duplicates and blanks", []string{"A", "", "A", "B"}, []string{"A", "B"}, nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ResolveSeeds(g, tt.candidates)
			if !slices.Equal(r.Valid, tt.wantValid) {
				t.Errorf("valid = %v, want %v", r.Valid, tt.wantValid)
			}
			if !slices.Equal(r.Missing, tt.wantMissing) {
				t.Errorf("missing = %v, want %v", r.Missing, tt.wantMissing)
			}
			if r.Empty() != tt.empty {
				t.Errorf("Empty() = %v, want %v", r.Empty(), tt.empty)
			}
			if r.Desynchronized() != tt.desync {
				t.Errorf("Desynchronized() = %v, want %v", r.Desynchronized(), tt.desync)
			}
		})
	}

	r := ResolveSeeds(g, []string{"A", "x", "y", "z"})
	if r.MissingRatio() != 0.75 {
		t.Errorf("missing ratio = %v, want 0.75", r.MissingRatio())
	}
}
