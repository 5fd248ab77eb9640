//go:build cgo

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/brunobiangulo/hipporeg/graph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func sampleGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	g.AddNode("c1", graph.Clause{
		Text:            "Operators shall keep records.",
		Section:         "4.1",
		ClauseNumber:    "4.1.a",
		RequirementType: graph.RequirementMandatory,
		Severity:        graph.SeverityHigh,
	})
	g.AddNode("c2", graph.Clause{Text: "Records should be retained.", Section: "4.2", Severity: graph.SeverityLow})
	g.AddNode("c3", graph.Clause{Text: "Unembedded clause."})
	g.SetEmbedding("c1", []float32{0.1, 0.2, 0.3, 0.4})
	g.SetEmbedding("c2", []float32{-1.5, 0, 2.25, 1e-7})

	edges := []graph.Edge{
		{Subject: "c1", Object: "c2", Relation: graph.RelAsserted, Weight: 1, Label: "references", Source: "doc-1"},
		{Subject: "c1", Object: "c2", Relation: graph.RelAsserted, Weight: 1, Label: "references", Source: "doc-2"},
		{Subject: "c1", Object: "c2", Relation: graph.RelSimilar, Weight: 0.1, Source: "doc-1"},
		{Subject: "c2", Object: "c3", Relation: graph.RelAdjacent, Weight: 1},
		{Subject: "c3", Object: "dangling", Relation: graph.RelAsserted, Weight: 1},
	}
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	return g
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := sampleGraph(t)

	manifest := Manifest{NewManifestEntry("doc-1", "abc", 3, 4)}
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: g, Manifest: manifest}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := s.Load(ctx, "us")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(g.Export(), snap.Graph.Export()); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}
	for _, n := range g.Nodes() {
		got, _ := snap.Graph.Node(n.ID)
		if diff := cmp.Diff(n.Embedding, got.Embedding); diff != "" {
			t.Errorf("embedding %s mismatch (-want +got):\n%s", n.ID, diff)
		}
	}
	if diff := cmp.Diff(g.Stats(), snap.Graph.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if snap.Jurisdiction != "us" {
		t.Errorf("jurisdiction = %q", snap.Jurisdiction)
	}
	if len(snap.Manifest) != 1 || snap.Manifest[0].BatchID != manifest[0].BatchID {
		t.Errorf("manifest = %+v", snap.Manifest)
	}
	if snap.Graph.OutWeight("c1") != g.OutWeight("c1") {
		t.Errorf("out weight = %v, want %v", snap.Graph.OutWeight("c1"), g.OutWeight("c1"))
	}
}

func TestSaveEmptyGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "eu", Graph: graph.New()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.HasEmbeddings("eu") {
		t.Error("embedding container written for a graph without embeddings")
	}
	snap, err := s.Load(ctx, "eu")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Graph.Len() != 0 || snap.Graph.EdgeCount() != 0 {
		t.Errorf("loaded %d nodes, %d edges", snap.Graph.Len(), snap.Graph.EdgeCount())
	}
}

func TestLoadWithoutEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := sampleGraph(t)
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: g}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(s.EmbeddingsPath("us")); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Load(ctx, "us")
	if err != nil {
		t.Fatalf("Load without embeddings: %v", err)
	}
	if snap.Graph.Len() != g.Len() {
		t.Errorf("nodes = %d, want %d", snap.Graph.Len(), g.Len())
	}
	if snap.Graph.Stats().Embedded != 0 {
		t.Errorf("embedded = %d, want 0", snap.Graph.Stats().Embedded)
	}
}

func TestLoadNotFound(t *testing.T) {
	_, err := newTestStore(t).Load(context.Background(), "nowhere")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestLoadCorruptTopology(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"not json", `{"schema_version": 1, "nodes": [`, ErrCorruptSnapshot},
		{"future schema", `{"schema_version": 99, "nodes": [], "edges": []}`, ErrSchemaVersion},
		{"missing schema", `{"nodes": [], "edges": []}`, ErrSchemaVersion},
		{"unknown relation", `{"schema_version": 1,
			"nodes": [{"id": "a", "type": "clause"}, {"id": "b", "type": "clause"}],
			"edges": [{"subject": "a", "object": "b", "relation": "SIMILAR_TO", "weight": 0.1}]}`, ErrCorruptSnapshot},
		{"dangling edge", `{"schema_version": 1,
			"nodes": [{"id": "a", "type": "clause"}],
			"edges": [{"subject": "a", "object": "b", "relation": "ASSERTED", "weight": 1}]}`, ErrCorruptSnapshot},
		{"duplicate node", `{"schema_version": 1,
			"nodes": [{"id": "a", "type": "clause"}, {"id": "a", "type": "clause"}], "edges": []}`, ErrCorruptSnapshot},
		{"negative weight", `{"schema_version": 1,
			"nodes": [{"id": "a", "type": "clause"}, {"id": "b", "type": "clause"}],
			"edges": [{"subject": "a", "object": "b", "relation": "ASSERTED", "weight": -1}]}`, ErrCorruptSnapshot},
		{"unknown field", `{"schema_version": 1, "nodes": [{"id": "a", "type": "clause", "colour": "red"}], "edges": []}`, ErrCorruptSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			dir := s.Dir("us")
			if err := os.MkdirAll(dir, 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, TopologyFile), []byte(tt.doc), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := s.Load(context.Background(), "us")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadEmbeddingForUnknownNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: sampleGraph(t)}); err != nil {
		t.Fatal(err)
	}

	// Replace the topology with one that lacks c2 while its embedding stays.
	small := graph.New()
	small.AddNode("c1", graph.Clause{Text: "x"})
	data, err := os.ReadFile(s.EmbeddingsPath("us"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: small}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.EmbeddingsPath("us"), data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(ctx, "us"); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestLoadGarbageEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: sampleGraph(t)}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.EmbeddingsPath("us"), []byte(strings.Repeat("not a database ", 200)), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(ctx, "us"); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for range 2 {
		if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: sampleGraph(t)}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(s.Dir("us"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{EmbeddingsFile, TopologyFile}, names); diff != "" {
		t.Errorf("snapshot directory (-want +got):\n%s", diff)
	}
}

func TestDropStaleEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: sampleGraph(t)}); err != nil {
		t.Fatal(err)
	}
	path := s.EmbeddingsPath("us")

	// A growing graph keeps the container: every stored id still exists.
	grown := map[string]bool{"c1": true, "c2": true, "c3": true, "c4": true}
	if err := dropStaleEmbeddings(ctx, path, grown); err != nil {
		t.Fatal(err)
	}
	if !s.HasEmbeddings("us") {
		t.Fatal("container removed for a superset topology")
	}

	// A rebuilt graph without c1 and c2 must not keep their vectors.
	if err := dropStaleEmbeddings(ctx, path, map[string]bool{"x": true}); err != nil {
		t.Fatal(err)
	}
	if s.HasEmbeddings("us") {
		t.Fatal("stale container kept for a shrunk topology")
	}

	if err := dropStaleEmbeddings(ctx, path, grown); err != nil {
		t.Errorf("missing container: %v", err)
	}
}

func TestSaveShrunkGraphLoads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: sampleGraph(t)}); err != nil {
		t.Fatal(err)
	}

	rebuilt := graph.New()
	rebuilt.AddNode("x", graph.Clause{Text: "Replacement clause."})
	rebuilt.SetEmbedding("x", []float32{1, 0, 0, 0})
	if err := s.Save(ctx, &Snapshot{Jurisdiction: "us", Graph: rebuilt}); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Load(ctx, "us")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Graph.Len() != 1 || snap.Graph.Has("c1") {
		t.Errorf("loaded %d nodes, want only x", snap.Graph.Len())
	}
	n, _ := snap.Graph.Node("x")
	if diff := cmp.Diff([]float32{1, 0, 0, 0}, n.Embedding); diff != "" {
		t.Errorf("embedding mismatch (-want +got):\n%s", diff)
	}
}

func TestManifestLookup(t *testing.T) {
	m := Manifest{
		NewManifestEntry("a.pdf", "h1", 1, 0),
		NewManifestEntry("b.pdf", "h2", 2, 1),
	}
	e, ok := m.Lookup("b.pdf")
	if !ok || e.ContentHash != "h2" {
		t.Errorf("Lookup(b.pdf) = %+v, %v", e, ok)
	}
	if _, ok := m.Lookup("c.pdf"); ok {
		t.Error("Lookup found an absent source")
	}
	if m[0].BatchID == m[1].BatchID {
		t.Error("batch ids are not unique")
	}
}

func TestList(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range []string{"us", "eu"} {
		if err := s.Save(context.Background(), &Snapshot{Jurisdiction: j, Graph: graph.New()}); err != nil {
			t.Fatalf("Save(%s): %v", j, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(s.Root(), "scratch"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"eu", "us"}, got); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}
