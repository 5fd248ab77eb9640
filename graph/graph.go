package graph

import (
	"fmt"
	"math"
	"slices"
)

// Clause holds the typed attributes of a clause node.
type Clause struct {
	Text            string          `json:"text"`
	Section         string          `json:"section"`
	ClauseNumber    string          `json:"clause_number"`
	RequirementType RequirementType `json:"requirement_type"`
	Severity        Severity        `json:"severity"`
}

// Node is a graph vertex. Placeholder nodes (Kind == KindUnknown) carry a
// zero Clause.
type Node struct {
	ID        string    `json:"id"`
	Kind      NodeKind  `json:"kind"`
	Clause    Clause    `json:"clause"`
	Embedding []float32 `json:"-"`
}

// IsClause reports whether n is a clause node rather than a placeholder.
func (n Node) IsClause() bool { return n.Kind == KindClause }

// Edge is a directed, typed, weighted relationship between two node ids.
type Edge struct {
	Subject  string   `json:"subject"`
	Object   string   `json:"object"`
	Relation Relation `json:"relation"`
	Weight   float64  `json:"weight"`
	// Label keeps the extractor's predicate for asserted edges.
	Label string `json:"label,omitempty"`
	// Source tags the ingestion batch that produced the edge.
	Source string `json:"source,omitempty"`
}

// Arc is an outgoing edge in index space.
type Arc struct {
	To     int
	Weight float64
}

type edgeRec struct {
	from, to int
	relation Relation
	weight   float64
	label    string
	source   string
}

// Graph is a directed multigraph of clause nodes. Nodes live in an arena
// indexed by a dense int; ids maps string ids into the arena. Parallel
// edges are kept distinct and their weights never merge.
//
// A Graph is not safe for concurrent mutation. Callers share a Graph
// read-only and build a Clone to apply changes.
type Graph struct {
	ids       map[string]int
	nodes     []Node
	edges     []edgeRec
	out       [][]int // node index -> indices into edges
	outWeight []float64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{ids: make(map[string]int)}
}

// AddNode inserts a clause node or overwrites the attributes of an
// existing one, promoting a placeholder to a clause. The stored embedding
// is kept. AddNode is idempotent.
func (g *Graph) AddNode(id string, c Clause) {
	i := g.ensure(id)
	g.nodes[i].Kind = KindClause
	g.nodes[i].Clause = c
}

// AddPlaceholder inserts an unknown-kind node for id unless id already
// exists.
func (g *Graph) AddPlaceholder(id string) {
	g.ensure(id)
}

// SetEmbedding back-fills the embedding of an existing node. It reports
// false when id is absent.
func (g *Graph) SetEmbedding(id string, vec []float32) bool {
	i, ok := g.ids[id]
	if !ok {
		return false
	}
	g.nodes[i].Embedding = slices.Clone(vec)
	return true
}

// ensure returns the index of id, creating a placeholder node if needed.
func (g *Graph) ensure(id string) int {
	if i, ok := g.ids[id]; ok {
		return i
	}
	i := len(g.nodes)
	g.ids[id] = i
	g.nodes = append(g.nodes, Node{ID: id, Kind: KindUnknown})
	g.out = append(g.out, nil)
	g.outWeight = append(g.outWeight, 0)
	return i
}

// AddEdge appends a new edge record. Missing endpoints are created as
// placeholder nodes. Duplicate edges are preserved, so asserting the same
// relationship twice doubles its propagation weight.
func (g *Graph) AddEdge(e Edge) error {
	if !e.Relation.Valid() {
		return fmt.Errorf("graph: invalid relation %d", e.Relation)
	}
	if e.Subject == "" || e.Object == "" {
		return fmt.Errorf("graph: edge endpoints must be non-empty")
	}
	if !(e.Weight >= 0) || math.IsInf(e.Weight, 1) {
		return fmt.Errorf("graph: edge weight %v must be finite and non-negative", e.Weight)
	}
	from := g.ensure(e.Subject)
	to := g.ensure(e.Object)
	g.edges = append(g.edges, edgeRec{
		from:     from,
		to:       to,
		relation: e.Relation,
		weight:   e.Weight,
		label:    e.Label,
		source:   e.Source,
	})
	g.out[from] = append(g.out[from], len(g.edges)-1)
	g.outWeight[from] += e.Weight
	return nil
}

// Has reports whether id is a node of g.
func (g *Graph) Has(id string) bool {
	_, ok := g.ids[id]
	return ok
}

// Node returns the node for id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.ids[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Neighbors returns the distinct successors of id in first-edge order.
// When relations are given only edges of those relations are followed.
// An unknown id yields nil.
func (g *Graph) Neighbors(id string, relations ...Relation) []string {
	i, ok := g.ids[id]
	if !ok {
		return nil
	}
	seen := make(map[int]bool)
	var result []string
	for _, ei := range g.out[i] {
		e := g.edges[ei]
		if len(relations) > 0 && !slices.Contains(relations, e.relation) {
			continue
		}
		if seen[e.to] {
			continue
		}
		seen[e.to] = true
		result = append(result, g.nodes[e.to].ID)
	}
	return result
}

// EmbeddingDim returns the dimension of the stored embeddings, or 0 when
// no node carries one.
func (g *Graph) EmbeddingDim() int {
	for _, n := range g.nodes {
		if len(n.Embedding) > 0 {
			return len(n.Embedding)
		}
	}
	return 0
}

// OutWeight returns the summed weight of all edges leaving id.
func (g *Graph) OutWeight(id string) float64 {
	i, ok := g.ids[id]
	if !ok {
		return 0
	}
	return g.outWeight[i]
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the number of edge records.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Index returns the arena index of id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.ids[id]
	return i, ok
}

// NodeAt returns the node stored at arena index i.
func (g *Graph) NodeAt(i int) Node { return g.nodes[i] }

// Adjacency returns the outgoing arcs of every node, indexed like the
// arena, in edge insertion order.
func (g *Graph) Adjacency() [][]Arc {
	adj := make([][]Arc, len(g.nodes))
	for i, out := range g.out {
		arcs := make([]Arc, len(out))
		for k, ei := range out {
			arcs[k] = Arc{To: g.edges[ei].to, Weight: g.edges[ei].weight}
		}
		adj[i] = arcs
	}
	return adj
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = g.edge(e)
	}
	return out
}

// Export is a point-in-time view of the whole graph.
type Export struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Export returns every node and edge in insertion order.
func (g *Graph) Export() Export {
	return Export{Nodes: g.Nodes(), Edges: g.Edges()}
}

func (g *Graph) edge(e edgeRec) Edge {
	return Edge{
		Subject:  g.nodes[e.from].ID,
		Object:   g.nodes[e.to].ID,
		Relation: e.relation,
		Weight:   e.weight,
		Label:    e.label,
		Source:   e.source,
	}
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		ids:       make(map[string]int, len(g.ids)),
		nodes:     make([]Node, len(g.nodes)),
		edges:     slices.Clone(g.edges),
		out:       make([][]int, len(g.out)),
		outWeight: slices.Clone(g.outWeight),
	}
	for id, i := range g.ids {
		c.ids[id] = i
	}
	for i, n := range g.nodes {
		n.Embedding = slices.Clone(n.Embedding)
		c.nodes[i] = n
	}
	for i, o := range g.out {
		c.out[i] = slices.Clone(o)
	}
	return c
}

// Stats summarises a graph.
type Stats struct {
	NodeCount     int            `json:"node_count"`
	EdgeCount     int            `json:"edge_count"`
	NodeTypes     map[string]int `json:"node_types"`
	EdgeRelations map[string]int `json:"edge_relations"`
	Embedded      int            `json:"embedded"`
	Components    int            `json:"components"`
}

// Stats counts nodes by kind and edges by relation.
func (g *Graph) Stats() Stats {
	s := Stats{
		NodeCount:     len(g.nodes),
		EdgeCount:     len(g.edges),
		NodeTypes:     make(map[string]int),
		EdgeRelations: make(map[string]int),
		Components:    len(g.Components()),
	}
	for _, n := range g.nodes {
		s.NodeTypes[n.Kind.String()]++
		if len(n.Embedding) > 0 {
			s.Embedded++
		}
	}
	for _, e := range g.edges {
		s.EdgeRelations[e.relation.String()]++
	}
	return s
}
