package graph

// Hooks lets node-type-specific behavior (filesystem probes, directory
// listing) be supplied by the caller instead of baked into the graph
// package, keeping BuildPass itself free of I/O. The Build Driver supplies
// a concrete implementation backed by the real filesystem; tests supply a
// fake.
type Hooks interface {
	// IsWritable reports whether path is currently writable by its owner:
	// used by UnityNode's isolation rule, where a member that became
	// writable is built standalone until it is read-only again.
	IsWritable(path string) bool

	// ListDirectory returns the current file list matching a
	// DirectoryListingNode's patterns, used to refresh its dynamic
	// dependency set every pass.
	ListDirectory(dir string, patterns []string, recurse bool) ([]string, error)

	// ResolveSourceNode maps a path (e.g. a unity member, or a file found
	// by ListDirectory) to its Source node, creating one on demand.
	ResolveSourceNode(path string) (*Node, error)
}

// depState summarizes whether a dependency list has finished settling
// this pass: ready means every target reached UpToDate; failed means at
// least one target is Failed (which propagates); otherwise the caller
// must wait for a future pass.
type depState int

const (
	depPending depState = iota
	depReady
	depFailed
)

func (g *NodeGraph) walkDeps(deps []*Dependency, pass uint32, hooks Hooks) (depState, error) {
	allReady := true
	for _, d := range deps {
		if err := g.walk(d.Target, pass, hooks); err != nil {
			return depPending, err
		}
		switch d.Target.state {
		case Failed:
			return depFailed, nil
		case UpToDate:
			// ready
		default:
			allReady = false
		}
	}
	if allReady {
		return depReady, nil
	}
	return depPending, nil
}

// walk advances n's state machine by as many steps as are currently
// unblocked, recursing into dependencies first. It is safe to call
// repeatedly across passes; a node already Building, Failed, or UpToDate
// returns immediately.
func (g *NodeGraph) walk(n *Node, pass uint32, hooks Hooks) error {
	if n.visitedThisPass(pass) {
		return nil
	}
	n.markVisited(pass)
	n.SetStatFlag(StatProcessed)

	switch n.state {
	case Failed, UpToDate, Building:
		return nil
	}

	if n.state == NotProcessed {
		st, err := g.walkDeps(n.PreBuild, pass, hooks)
		if err != nil {
			return err
		}
		switch st {
		case depFailed:
			n.state = Failed
			return nil
		case depReady:
			n.state = PreDepsReady
		default:
			return nil // still waiting on pre-build deps
		}
	}

	if n.state == PreDepsReady {
		st, err := g.walkDeps(n.Static, pass, hooks)
		if err != nil {
			return err
		}
		switch st {
		case depFailed:
			n.state = Failed
			return nil
		case depReady:
			n.state = StaticDepsReady
		default:
			return nil // still waiting on static deps
		}
	}

	if n.state == StaticDepsReady {
		if err := g.doDynamicDependencies(n, hooks); err != nil {
			return err
		}
		st, err := g.walkDeps(n.Dynamic, pass, hooks)
		if err != nil {
			return err
		}
		switch st {
		case depFailed:
			n.state = Failed
			return nil
		case depReady:
			n.state = DynamicDepsDone
		default:
			return nil // still waiting on dynamic deps
		}
	}

	if n.state == DynamicDepsDone {
		if needToBuild(n, g.forceClean) {
			n.state = Building
			g.pending = append(g.pending, n)
		} else {
			n.state = UpToDate
		}
	}
	return nil
}

// BuildPass performs one recursive sweep over targets (
// build_pass): it bumps the build-pass tag, walks each target's
// dependencies, and returns the set of nodes that just transitioned to
// Building and are therefore ready to be scheduled as Jobs. Call this
// repeatedly from the Build Driver's main loop as jobs complete and
// unblock downstream nodes (finalize_completed_jobs must run between
// calls so Stamp/state changes are visible).
func (g *NodeGraph) BuildPass(targets []*Node, forceClean bool, hooks Hooks) ([]*Node, error) {
	pass := g.NewPass()
	g.forceClean = forceClean
	g.pending = g.pending[:0]
	for _, t := range targets {
		if err := g.walk(t, pass, hooks); err != nil {
			return nil, err
		}
	}
	out := make([]*Node, len(g.pending))
	copy(out, g.pending)
	return out, nil
}

// needToBuild implements the staleness rule: stale iff
// the node's own stamp is zero, any non-weak dependency's stamp has moved,
// or a forced-clean flag is set for the pass.
func needToBuild(n *Node, forceClean bool) bool {
	if forceClean {
		return true
	}
	if n.Stamp == 0 {
		return true
	}
	for _, lists := range [][]*Dependency{n.PreBuild, n.Static, n.Dynamic} {
		for _, d := range lists {
			if d.Stale() {
				return true
			}
		}
	}
	return false
}

// doDynamicDependencies is the per-type hook point. Most node types have
// no dynamic-dependency behavior of their own (their Dynamic list is
// filled in by the Build Driver's include scan when the node is built,
// and takes effect from the next build); Unity and DirectoryListing
// nodes recompute membership every pass.
func (g *NodeGraph) doDynamicDependencies(n *Node, hooks Hooks) error {
	switch n.Type {
	case TypeUnity:
		return g.unityDynamicDeps(n, hooks)
	case TypeDirectoryListing:
		return g.directoryListingDynamicDeps(n, hooks)
	default:
		return nil
	}
}
