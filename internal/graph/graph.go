package graph

import (
	"sync"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

const numBuckets = 65536

// ErrDuplicateName is returned by CreateNode when a node of the same name
// already exists.
var ErrDuplicateName = xerrors.New("graph: node already exists")

// ErrCyclicDependency is returned by CheckAcyclic (called at graph-load
// time) when the edge set contains a cycle.
var ErrCyclicDependency = xerrors.New("graph: cyclic dependency detected")

// NodeGraph owns every Node, indexes them by canonical name, and assigns
// each a dense integer index used for on-disk dependency references.
type NodeGraph struct {
	mu      sync.RWMutex
	buckets [numBuckets][]*Node
	byIndex []*Node
	passTag uint32

	// forceClean and pending are scratch state for the in-flight
	// BuildPass call; they are not meaningful between calls.
	forceClean bool
	pending    []*Node

	// UsedConfigFiles records the configuration files (and their mtimes)
	// that contributed to this graph, for the persisted database's
	// staleness check.
	UsedConfigFiles []ConfigFileStamp
}

type ConfigFileStamp struct {
	Path  string
	MtimeUnixNano int64
}

func New() *NodeGraph {
	return &NodeGraph{}
}

func bucketOf(crc uint32) uint32 { return crc % numBuckets }

// FindNode looks up a node by its already-canonicalized name.
func (g *NodeGraph) FindNode(name string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findLocked(name)
}

func (g *NodeGraph) findLocked(name string) *Node {
	crc := nameCRC(name)
	for _, n := range g.buckets[bucketOf(crc)] {
		if n.crc == crc && n.name == name {
			return n
		}
	}
	return nil
}

func (g *NodeGraph) register(n *Node) {
	n.index = uint32(len(g.byIndex))
	g.byIndex = append(g.byIndex, n)
	b := bucketOf(n.crc)
	g.buckets[b] = append(g.buckets[b], n)
}

// createNode inserts n, failing if a node of the same name already
// exists. Callers (CreateSourceNode, CreateObjectNode, ...) hold no lock
// themselves; createNode takes the write lock.
func (g *NodeGraph) createNode(n *Node) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing := g.findLocked(n.name); existing != nil {
		return nil, xerrors.Errorf("%s: %w", n.name, ErrDuplicateName)
	}
	g.register(n)
	return n, nil
}

// NodeByIndex resolves the dense index used by the persisted database's
// dependency records back to a *Node.
func (g *NodeGraph) NodeByIndex(idx uint32) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if idx == InvalidIndex || int(idx) >= len(g.byIndex) {
		return nil
	}
	return g.byIndex[idx]
}

// Nodes returns a snapshot of all nodes, ordered by creation (= dense
// index order).
func (g *NodeGraph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, len(g.byIndex))
	copy(out, g.byIndex)
	return out
}

// CheckAcyclic rejects cyclic edges at graph-load time, using gonum's
// directed graph + topological sort.
func (g *NodeGraph) CheckAcyclic() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dg := simple.NewDirectedGraph()
	for _, n := range g.byIndex {
		dg.AddNode(simpleNode(n.index))
	}
	addEdges := func(from *Node, deps []*Dependency) {
		for _, d := range deps {
			dg.SetEdge(dg.NewEdge(simpleNode(from.index), simpleNode(d.Target.index)))
		}
	}
	for _, n := range g.byIndex {
		addEdges(n, n.PreBuild)
		addEdges(n, n.Static)
		addEdges(n, n.Dynamic)
	}
	if _, err := topo.Sort(dg); err != nil {
		return xerrors.Errorf("%w", ErrCyclicDependency)
	}
	return nil
}

type simpleNode int64

func (n simpleNode) ID() int64 { return int64(n) }

// NewPass increments the build-pass tag; callers must call this once per
// top-level BuildPass invocation, so a node is visited at most once per
// pass.
func (g *NodeGraph) NewPass() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.passTag++
	return g.passTag
}

func (n *Node) visitedThisPass(pass uint32) bool {
	return n.buildPassTag == pass
}

func (n *Node) markVisited(pass uint32) {
	n.buildPassTag = pass
}
