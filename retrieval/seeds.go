package retrieval

// NodeSet is the lookup a Resolver needs from a graph.
type NodeSet interface {
	Has(id string) bool
}

// Resolution is the outcome of filtering candidate seeds against a graph.
type Resolution struct {
	// Valid keeps the candidates present in the graph in their original
	// order, without duplicates.
	Valid   []string
	Missing []string
	// Requested counts the distinct candidates supplied.
	Requested int
}

// Empty reports whether no seeds were requested at all.
func (r Resolution) Empty() bool { return r.Requested == 0 }

// Desynchronized reports whether seeds were requested but none of them
// exist in the graph, which means the vector index and the graph have
// drifted apart.
func (r Resolution) Desynchronized() bool {
	return r.Requested > 0 && len(r.Valid) == 0
}

// MissingRatio returns the fraction of requested seeds absent from the
// graph.
func (r Resolution) MissingRatio() float64 {
	if r.Requested == 0 {
		return 0
	}
	return float64(len(r.Missing)) / float64(r.Requested)
}

// ResolveSeeds filters candidates to ids present in nodes. The vector
// index's ranking is kept as is.
func ResolveSeeds(nodes NodeSet, candidates []string) Resolution {
	var r Resolution
	seen := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		r.Requested++
		if nodes.Has(id) {
			r.Valid = append(r.Valid, id)
		} else {
			r.Missing = append(r.Missing, id)
		}
	}
	return r
}
