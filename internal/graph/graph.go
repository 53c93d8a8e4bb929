// Package graph implements the immutable prerequisite graph over catalog
// objectives and the read-only traversals the progress engine runs against
// it. Graphs are built once per catalog snapshot and never mutated after
// construction.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

type node struct {
	id    string
	preds map[string]*node
	succs map[string]*node
}

// Graph is a directed dependency graph. Edges run prerequisite -> dependent.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

// New returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds a node with the given id. Adding an existing id is a no-op
// and retains the first value; the builder re-runs on every catalog refresh.
func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:    id,
		preds: make(map[string]*node),
		succs: make(map[string]*node),
	}
}

// AddEdge creates a directed edge from prerequisite fromID to dependent
// toID. Re-adding an existing edge is a no-op. An error is returned if
// either node does not exist or the edge would be self-referential.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, toID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	from, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}
	from.succs[toID] = to
	to.preds[fromID] = from
	return nil
}

// HasNode reports whether the graph contains id.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	count := 0
	for _, n := range g.nodes {
		count += len(n.succs)
	}
	return count
}

// Predecessors returns the direct prerequisites of id, sorted. Unknown ids
// yield an empty result, not an error: graphs rebuild asynchronously and a
// stale lookup must degrade gracefully.
func (g *Graph) Predecessors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.preds)
}

// Successors returns the direct dependents of id, sorted.
func (g *Graph) Successors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.succs)
}

// Ancestors returns the transitive prerequisites of id, sorted. Shared
// ancestors appear once; the visited set also guards against any cycle that
// slips past construction.
func (g *Graph) Ancestors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.walk(id, func(n *node) map[string]*node { return n.preds })
}

// Descendants returns the transitive dependents of id, sorted.
func (g *Graph) Descendants(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.walk(id, func(n *node) map[string]*node { return n.succs })
}

// SumAttribute sums a numeric attribute over id and all its ancestors. Each
// node is counted exactly once even when reachable via multiple paths.
func (g *Graph) SumAttribute(id string, attr func(id string) int64) int64 {
	g.mu.RLock()
	start, ok := g.nodes[id]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	total := attr(start.id)
	for _, ancestor := range g.Ancestors(id) {
		total += attr(ancestor)
	}
	return total
}

func (g *Graph) walk(id string, next func(*node) map[string]*node) []string {
	start, ok := g.nodes[id]
	if !ok {
		return nil
	}
	visited := map[string]bool{id: true}
	queue := []*node{start}
	var out []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for nid, n := range next(current) {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			out = append(out, nid)
			queue = append(queue, n)
		}
	}
	sort.Strings(out)
	return out
}

// DetectCycles checks the graph for cycles and returns a non-nil error
// naming the first node involved in a detected cycle. The catalog is
// expected to be acyclic; construction fails loudly on violation.
func (g *Graph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}
		temporary[n.id] = true
		for _, succ := range n.succs {
			if err := visit(succ); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range g.nodes {
		if !permanent[n.id] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(nodes map[string]*node) []string {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]string, 0, len(nodes))
	for id := range nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
