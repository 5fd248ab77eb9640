package graph

import "slices"

// Components returns the weakly connected components of g as groups of
// node ids. Components are ordered by their first node in insertion order
// and ids within a component follow BFS order.
//
// A graph built from sparse extractor output is frequently disconnected;
// the component count is a quick signal of how far relevance can spread
// from a seed.
func (g *Graph) Components() [][]string {
	if len(g.nodes) == 0 {
		return nil
	}

	// Undirected adjacency in index space.
	adj := make([][]int, len(g.nodes))
	for _, e := range g.edges {
		adj[e.from] = append(adj[e.from], e.to)
		adj[e.to] = append(adj[e.to], e.from)
	}

	visited := make([]bool, len(g.nodes))
	var components [][]string

	for i := range g.nodes {
		if visited[i] {
			continue
		}
		var comp []string
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, g.nodes[node].ID)
			for _, next := range adj[node] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		components = append(components, comp)
	}
	return components
}

// LargestComponent returns the size of the largest component.
func LargestComponent(components [][]string) int {
	sizes := make([]int, 0, len(components))
	for _, c := range components {
		sizes = append(sizes, len(c))
	}
	if len(sizes) == 0 {
		return 0
	}
	return slices.Max(sizes)
}
