package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// ErrInvalidBatch is returned when an ingestion batch fails validation.
// The target graph is left untouched.
var ErrInvalidBatch = errors.New("graph: invalid batch")

// Batch is one unit of ingestion: the clauses and relationships extracted
// from a single source document, plus optional embeddings keyed by clause
// id.
type Batch struct {
	Source     string               `json:"source"`
	Clauses    []ClauseRecord       `json:"clauses"`
	Triplets   []Triplet            `json:"triplets"`
	Embeddings map[string][]float32 `json:"embeddings,omitempty"`
}

// ContentHash returns a stable sha256 of the batch contents. Map keys are
// ordered by encoding/json so equal batches hash equally.
func (b Batch) ContentHash() string {
	data, err := json.Marshal(b)
	if err != nil {
		// Only NaN/Inf embeddings fail to marshal; validation rejects them.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BuildReport summarises what Apply added to a graph.
type BuildReport struct {
	Source           string `json:"source"`
	Clauses          int    `json:"clauses"`
	Placeholders     int    `json:"placeholders"`
	Asserted         int    `json:"asserted"`
	Similar          int    `json:"similar"`
	Adjacent         int    `json:"adjacent"`
	SelfLoopsSkipped int    `json:"self_loops_skipped"`
	TripletsSkipped  int    `json:"triplets_skipped"`
	Embeddings       int    `json:"embeddings"`
}

// Edges returns the total number of edges added.
func (r *BuildReport) Edges() int {
	return r.Asserted + r.Similar + r.Adjacent
}

// Builder applies ingestion batches to a graph, consulting a WeightPolicy
// for every edge it creates.
type Builder struct {
	policy     WeightPolicy
	similarity SimilarityOptions
}

// NewBuilder creates a builder. A zero MaxEdgesPerNode disables similarity
// edges.
func NewBuilder(policy WeightPolicy, similarity SimilarityOptions) *Builder {
	return &Builder{policy: policy, similarity: similarity}
}

type validClause struct {
	id     string
	chunk  string
	clause Clause
	vec    []float32
}

// Apply adds batch to g: clause nodes, embeddings, ASSERTED edges from the
// triplets, ADJACENT edges along each chunk and SIMILAR edges among the
// batch's embedded clauses. The batch is validated before g is touched.
func (b *Builder) Apply(g *Graph, batch Batch) (*BuildReport, error) {
	clauses, err := b.validate(g, batch)
	if err != nil {
		return nil, err
	}

	report := &BuildReport{Source: batch.Source}
	before := g.Len()

	for _, c := range clauses {
		g.AddNode(c.id, c.clause)
		if len(c.vec) > 0 {
			g.SetEmbedding(c.id, c.vec)
			report.Embeddings++
		}
		report.Clauses++
	}

	// Embeddings keyed by id may back-fill nodes from earlier batches.
	for id, vec := range batch.Embeddings {
		if len(vec) == 0 {
			continue
		}
		if g.SetEmbedding(id, vec) {
			report.Embeddings++
		} else {
			slog.Warn("graph: embedding for unknown node, skipping", "id", id, "source", batch.Source)
		}
	}

	for _, t := range batch.Triplets {
		subject := strings.TrimSpace(t.Subject)
		object := strings.TrimSpace(t.Object)
		if subject == "" || object == "" {
			report.TripletsSkipped++
			continue
		}
		if subject == object {
			report.SelfLoopsSkipped++
			continue
		}
		source := t.Source
		if source == "" {
			source = batch.Source
		}
		if err := g.AddEdge(Edge{
			Subject:  subject,
			Object:   object,
			Relation: RelAsserted,
			Weight:   b.policy.Weight(RelAsserted, 0),
			Label:    strings.TrimSpace(t.Predicate),
			Source:   source,
		}); err != nil {
			return nil, err
		}
		report.Asserted++
	}

	n, err := b.linkAdjacent(g, clauses, batch.Source)
	if err != nil {
		return nil, err
	}
	report.Adjacent = n

	n, err = b.linkSimilar(g, clauses, batch.Source)
	if err != nil {
		return nil, err
	}
	report.Similar = n

	report.Placeholders = g.Len() - before - countNew(clauses, before, g)

	slog.Info("graph: batch applied",
		"source", batch.Source,
		"clauses", report.Clauses,
		"asserted", report.Asserted,
		"adjacent", report.Adjacent,
		"similar", report.Similar,
		"placeholders", report.Placeholders,
		"self_loops_skipped", report.SelfLoopsSkipped)

	return report, nil
}

// countNew counts batch clauses whose node was created by this batch.
func countNew(clauses []validClause, before int, g *Graph) int {
	seen := make(map[string]bool, len(clauses))
	n := 0
	for _, c := range clauses {
		if seen[c.id] {
			continue
		}
		seen[c.id] = true
		if i, ok := g.Index(c.id); ok && i >= before {
			n++
		}
	}
	return n
}

func (b *Builder) validate(g *Graph, batch Batch) ([]validClause, error) {
	dim := g.EmbeddingDim()
	checkDim := func(id string, vec []float32) error {
		if len(vec) == 0 {
			return nil
		}
		for _, x := range vec {
			if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("%w: embedding for %q has non-finite values", ErrInvalidBatch, id)
			}
		}
		if dim == 0 {
			dim = len(vec)
			return nil
		}
		if len(vec) != dim {
			return fmt.Errorf("%w: embedding for %q has dimension %d, want %d", ErrInvalidBatch, id, len(vec), dim)
		}
		return nil
	}

	out := make([]validClause, 0, len(batch.Clauses))
	for i, rec := range batch.Clauses {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: clause %d has an empty id", ErrInvalidBatch, i)
		}
		rt, err := ParseRequirementType(rec.RequirementType)
		if err != nil {
			return nil, fmt.Errorf("%w: clause %q: %v", ErrInvalidBatch, id, err)
		}
		sev, err := ParseSeverity(rec.Severity)
		if err != nil {
			return nil, fmt.Errorf("%w: clause %q: %v", ErrInvalidBatch, id, err)
		}
		if err := checkDim(id, rec.Embedding); err != nil {
			return nil, err
		}
		out = append(out, validClause{
			id:    id,
			chunk: rec.Chunk,
			clause: Clause{
				Text:            strings.TrimSpace(rec.Text),
				Section:         rec.Section,
				ClauseNumber:    rec.ClauseNumber,
				RequirementType: rt,
				Severity:        sev,
			},
			vec: rec.Embedding,
		})
	}
	for id, vec := range batch.Embeddings {
		if err := checkDim(id, vec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// linkAdjacent chains each clause to its immediate successor within the
// same chunk. Only the direct successor is linked, never a window.
func (b *Builder) linkAdjacent(g *Graph, clauses []validClause, source string) (int, error) {
	last := make(map[string]string)
	n := 0
	for _, c := range clauses {
		if c.chunk == "" {
			continue
		}
		prev, ok := last[c.chunk]
		last[c.chunk] = c.id
		if !ok || prev == c.id {
			continue
		}
		if err := g.AddEdge(Edge{
			Subject:  prev,
			Object:   c.id,
			Relation: RelAdjacent,
			Weight:   b.policy.Weight(RelAdjacent, 0),
			Source:   source,
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// linkSimilar adds SIMILAR edges among the batch's clauses that carry an
// embedding after back-fill.
func (b *Builder) linkSimilar(g *Graph, clauses []validClause, source string) (int, error) {
	seen := make(map[string]bool, len(clauses))
	var vectors []Vector
	for _, c := range clauses {
		if seen[c.id] {
			continue
		}
		seen[c.id] = true
		node, ok := g.Node(c.id)
		if !ok || len(node.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, Vector{ID: c.id, Embedding: node.Embedding})
	}

	n := 0
	for _, p := range SimilarPairs(vectors, b.similarity) {
		if err := g.AddEdge(Edge{
			Subject:  p.From,
			Object:   p.To,
			Relation: RelSimilar,
			Weight:   b.policy.Weight(RelSimilar, p.Similarity),
			Source:   source,
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
