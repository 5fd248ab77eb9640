package graph

import (
	"cmp"
	"math"
	"slices"
)

// Default edge construction parameters.
const (
	DefaultSimilarWeight       = 0.1
	DefaultSimilarityThreshold = 0.80
	DefaultMaxEdgesPerNode     = 2

	assertedWeight = 1.0
	adjacentWeight = 1.0
)

// WeightPolicy maps an edge relation to its propagation weight.
//
// Measured similarity only gates whether a SIMILAR edge exists; it never
// becomes the stored weight. Extractor confidence is ignored for ASSERTED
// edges for the same reason.
type WeightPolicy struct {
	// SimilarWeight is the fixed weight of every SIMILAR edge.
	SimilarWeight float64
}

// DefaultWeightPolicy returns the policy with SimilarWeight 0.1.
func DefaultWeightPolicy() WeightPolicy {
	return WeightPolicy{SimilarWeight: DefaultSimilarWeight}
}

// Weight returns the weight for an edge of relation r. similarity is the
// measured cosine similarity for SIMILAR edges and is otherwise ignored.
func (p WeightPolicy) Weight(r Relation, similarity float64) float64 {
	switch r {
	case RelAsserted:
		return assertedWeight
	case RelSimilar:
		return p.SimilarWeight
	case RelAdjacent:
		return adjacentWeight
	default:
		return 0
	}
}

// SimilarityOptions gates similarity edge construction.
type SimilarityOptions struct {
	// Threshold is the minimum cosine similarity for a pair to be linked.
	Threshold float64
	// MaxEdgesPerNode caps the SIMILAR edges leaving a single node.
	MaxEdgesPerNode int
}

// DefaultSimilarityOptions returns threshold 0.80 with at most 2 edges
// per node.
func DefaultSimilarityOptions() SimilarityOptions {
	return SimilarityOptions{
		Threshold:       DefaultSimilarityThreshold,
		MaxEdgesPerNode: DefaultMaxEdgesPerNode,
	}
}

// SimilarPair is a directed candidate SIMILAR edge.
type SimilarPair struct {
	From, To   string
	Similarity float64
}

// Vector is an embedded node considered for similarity linking.
type Vector struct {
	ID        string
	Embedding []float32
}

// SimilarPairs returns, for each vector, its nearest other vectors whose
// cosine similarity is at or above the threshold, capped to
// MaxEdgesPerNode per source. Ties are broken by id so the result is
// deterministic. The comparison is O(n²); it runs at ingestion time only.
func SimilarPairs(vectors []Vector, opts SimilarityOptions) []SimilarPair {
	if len(vectors) < 2 || opts.MaxEdgesPerNode <= 0 {
		return nil
	}

	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		norms[i] = norm(v.Embedding)
	}

	var pairs []SimilarPair
	candidates := make([]SimilarPair, 0, len(vectors))
	for i, a := range vectors {
		candidates = candidates[:0]
		for j, b := range vectors {
			if i == j || a.ID == b.ID {
				continue
			}
			sim, ok := cosineWithNorms(a.Embedding, b.Embedding, norms[i], norms[j])
			if !ok || sim < opts.Threshold {
				continue
			}
			candidates = append(candidates, SimilarPair{From: a.ID, To: b.ID, Similarity: sim})
		}
		slices.SortFunc(candidates, func(x, y SimilarPair) int {
			if c := cmp.Compare(y.Similarity, x.Similarity); c != 0 {
				return c
			}
			return cmp.Compare(x.To, y.To)
		})
		if len(candidates) > opts.MaxEdgesPerNode {
			candidates = candidates[:opts.MaxEdgesPerNode]
		}
		pairs = append(pairs, candidates...)
	}
	return pairs
}

// Cosine returns the cosine similarity of a and b. It reports false when
// the vectors differ in length or either has zero magnitude.
func Cosine(a, b []float32) (float64, bool) {
	return cosineWithNorms(a, b, norm(a), norm(b))
}

func cosineWithNorms(a, b []float32, na, nb float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) || na == 0 || nb == 0 {
		return 0, false
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb), true
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
