package plugins

import (
	"github.com/sirupsen/logrus"
)

// Node is one configured plugin in the dependency graph
type Node struct {
	Descriptor Descriptor
	Export     *Export
	index      int
	last       bool
}

// ID returns the configured plugin id
func (n *Node) ID() string {
	return n.Descriptor.ID
}

// DependencyGraph holds "must initialize after" edges between configured
// plugins and the deterministic order derived from them
type DependencyGraph struct {
	nodes []*Node
	byID  map[string]*Node
	edges map[string][]string // id -> ids it loads after
	order []*Node
}

// BuildGraph resolves every node's loadAfter tokens into edges and sorts the
// graph topologically. Ties are broken by configuration order, so identical
// configuration always yields the identical order. The provider set is the
// one described by nodes; it is closed before any edge is drawn.
func BuildGraph(nodes []*Node, log *logrus.Logger) (*DependencyGraph, error) {
	if log == nil {
		log = logrus.New()
	}

	g := &DependencyGraph{
		nodes: make([]*Node, len(nodes)),
		byID:  make(map[string]*Node, len(nodes)),
		edges: make(map[string][]string, len(nodes)),
	}
	for i, n := range nodes {
		n.index = i
		n.last = false
		g.nodes[i] = n
		g.byID[n.ID()] = n
	}

	for _, n := range g.nodes {
		g.resolveTokens(n, log)
	}
	g.addLoadLastEdges()

	order, residual := g.sort()
	if len(residual) > 0 {
		return nil, &CycleError{IDs: g.cycleMembers(residual)}
	}
	g.order = order
	return g, nil
}

// Order returns the plugins in initialization order
func (g *DependencyGraph) Order() []*Node {
	result := make([]*Node, len(g.order))
	copy(result, g.order)
	return result
}

// IDs returns the plugin ids in initialization order
func (g *DependencyGraph) IDs() []string {
	ids := make([]string, len(g.order))
	for i, n := range g.order {
		ids[i] = n.ID()
	}
	return ids
}

// DependenciesOf returns the ids a plugin must initialize after
func (g *DependencyGraph) DependenciesOf(id string) []string {
	return append([]string(nil), g.edges[id]...)
}

// Providers returns the ids of every configured plugin declaring capability c,
// in configuration order
func (g *DependencyGraph) Providers(c Capability) []string {
	var ids []string
	for _, n := range g.nodes {
		if n.Export.ProvidesCapability(c) {
			ids = append(ids, n.ID())
		}
	}
	return ids
}

func (g *DependencyGraph) resolveTokens(n *Node, log *logrus.Logger) {
	for _, token := range n.Export.LoadAfter {
		if token == LoadLast {
			n.last = true
			continue
		}

		matched := false
		if IsCapability(token) {
			matched = true
			for _, other := range g.nodes {
				if other != n && other.Export.ProvidesCapability(Capability(token)) {
					g.addEdge(n, other)
				}
			}
		}
		if other, ok := g.byID[token]; ok {
			matched = true
			if other != n {
				g.addEdge(n, other)
			}
		}

		if !matched {
			log.WithFields(logrus.Fields{
				"plugin": n.ID(),
				"token":  token,
			}).Debug("loadAfter names no configured plugin or capability, ignoring")
		}
	}
}

// addLoadLastEdges orders every load-last plugin after all the others.
// Load-last plugins are not ordered among themselves unless they name each other.
func (g *DependencyGraph) addLoadLastEdges() {
	for _, n := range g.nodes {
		if !n.last {
			continue
		}
		for _, other := range g.nodes {
			if other != n && !other.last {
				g.addEdge(n, other)
			}
		}
	}
}

func (g *DependencyGraph) addEdge(from, to *Node) {
	for _, existing := range g.edges[from.ID()] {
		if existing == to.ID() {
			return
		}
	}
	g.edges[from.ID()] = append(g.edges[from.ID()], to.ID())
}

// sort is Kahn's algorithm, always emitting the earliest configured node
// whose dependencies are satisfied
func (g *DependencyGraph) sort() ([]*Node, []*Node) {
	remaining := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, n := range g.nodes {
		remaining[n.ID()] = len(g.edges[n.ID()])
		for _, dep := range g.edges[n.ID()] {
			dependents[dep] = append(dependents[dep], n.ID())
		}
	}

	done := make(map[string]bool, len(g.nodes))
	order := make([]*Node, 0, len(g.nodes))

	for len(order) < len(g.nodes) {
		var next *Node
		for _, n := range g.nodes {
			if !done[n.ID()] && remaining[n.ID()] == 0 {
				next = n
				break
			}
		}
		if next == nil {
			break
		}

		done[next.ID()] = true
		order = append(order, next)
		for _, dependent := range dependents[next.ID()] {
			remaining[dependent]--
		}
	}

	var residual []*Node
	for _, n := range g.nodes {
		if !done[n.ID()] {
			residual = append(residual, n)
		}
	}
	return order, residual
}

// cycleMembers returns, in configuration order, the residual nodes that can
// reach themselves. Nodes merely blocked behind a cycle are left out.
func (g *DependencyGraph) cycleMembers(residual []*Node) []string {
	inResidual := make(map[string]bool, len(residual))
	for _, n := range residual {
		inResidual[n.ID()] = true
	}

	var ids []string
	for _, n := range residual {
		if g.reaches(n.ID(), n.ID(), inResidual) {
			ids = append(ids, n.ID())
		}
	}
	if len(ids) == 0 {
		for _, n := range residual {
			ids = append(ids, n.ID())
		}
	}
	return ids
}

func (g *DependencyGraph) reaches(from, target string, allowed map[string]bool) bool {
	visited := make(map[string]bool)
	var visit func(string) bool
	visit = func(key string) bool {
		for _, dep := range g.edges[key] {
			if !allowed[dep] {
				continue
			}
			if dep == target {
				return true
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if visit(dep) {
				return true
			}
		}
		return false
	}
	return visit(from)
}
