package graph

// Dependency is an edge: the target node, the stamp that target had the
// last time the owning node was successfully built, and whether the edge
// is weak (enforces ordering only, never triggers a rebuild).
type Dependency struct {
	Target       *Node
	StampAtBuild uint64
	Weak         bool
}

// Stale reports whether this edge alone forces its owner to rebuild: the
// target's current stamp has moved on from what was recorded at the
// owner's last successful build, and the edge is not weak.
func (d *Dependency) Stale() bool {
	if d.Weak {
		return false
	}
	return d.Target.Stamp != d.StampAtBuild
}

func addDep(list []*Dependency, target *Node, weak bool) []*Dependency {
	return append(list, &Dependency{Target: target, Weak: weak})
}

// AddPreBuild records a pre-build dependency (must be up-to-date before
// dynamic-dependency discovery runs).
func (n *Node) AddPreBuild(target *Node, weak bool) {
	n.PreBuild = addDep(n.PreBuild, target, weak)
}

// AddStatic records a static dependency (known from configuration).
func (n *Node) AddStatic(target *Node, weak bool) {
	n.Static = addDep(n.Static, target, weak)
}

// AddDynamic records a dynamic dependency (discovered during a build, e.g.
// a scanned #include). Returns false if target is already present, so
// callers (the include scanner) can use this directly as their dedup
// check.
func (n *Node) AddDynamic(target *Node) bool {
	for _, d := range n.Dynamic {
		if d.Target == target {
			return false
		}
	}
	n.Dynamic = addDep(n.Dynamic, target, false)
	return true
}

// recordBuildStamps snapshots the current stamp of every dependency onto
// the edge, called right after a successful build so future passes can
// detect staleness relative to this build.
func (n *Node) recordBuildStamps() {
	for _, lists := range [][]*Dependency{n.PreBuild, n.Static, n.Dynamic} {
		for _, d := range lists {
			d.StampAtBuild = d.Target.Stamp
		}
	}
}
