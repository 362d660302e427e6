package similarity

import (
	"sort"
)

// DisjointSet is a union-find structure over string identifiers with path
// compression and union by size.
type DisjointSet struct {
	parent map[string]string
	size   map[string]int
}

// NewDisjointSet creates a set where every id starts in its own component
func NewDisjointSet(ids ...string) *DisjointSet {
	ds := &DisjointSet{
		parent: make(map[string]string, len(ids)),
		size:   make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		ds.Add(id)
	}
	return ds
}

// Add registers id as a singleton component if it is not known yet
func (ds *DisjointSet) Add(id string) {
	if _, ok := ds.parent[id]; ok {
		return
	}
	ds.parent[id] = id
	ds.size[id] = 1
}

// Find returns the representative of id's component
func (ds *DisjointSet) Find(id string) string {
	ds.Add(id)

	root := id
	for ds.parent[root] != root {
		root = ds.parent[root]
	}
	for id != root {
		next := ds.parent[id]
		ds.parent[id] = root
		id = next
	}
	return root
}

// Union merges the components of a and b
func (ds *DisjointSet) Union(a, b string) {
	ra, rb := ds.Find(a), ds.Find(b)
	if ra == rb {
		return
	}
	if ds.size[ra] < ds.size[rb] || (ds.size[ra] == ds.size[rb] && rb < ra) {
		ra, rb = rb, ra
	}
	ds.parent[rb] = ra
	ds.size[ra] += ds.size[rb]
}

// Connected reports whether a and b share a component
func (ds *DisjointSet) Connected(a, b string) bool {
	return ds.Find(a) == ds.Find(b)
}

// Components returns every component as a sorted id list. Components are
// ordered by their smallest member.
func (ds *DisjointSet) Components() [][]string {
	groups := make(map[string][]string)
	for id := range ds.parent {
		root := ds.Find(id)
		groups[root] = append(groups[root], id)
	}

	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i][0] < out[j][0]
	})
	return out
}
