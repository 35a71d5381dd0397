package graph

// unityDynamicDeps implements the isolation rule: a unity aggregate
// normally depends (statically) on all of its member
// source files. A member that is currently writable is treated as
// "being edited" and is excluded from the aggregate's dynamic dependency
// set so it is built standalone instead; it rejoins the unity once it is
// read-only again. The static dependency list (the full membership,
// configured) never changes — only which members additionally appear as
// dynamic deps of the *standalone* build does.
func (g *NodeGraph) unityDynamicDeps(n *Node, hooks Hooks) error {
	attrs := n.Attrs.(UnityAttrs)
	n.Dynamic = n.Dynamic[:0]
	for _, d := range n.Static {
		src := d.Target
		if src.Type != TypeSource {
			continue
		}
		isolated := hooks.IsWritable(sourcePath(src))
		attrs.Isolated[src.Name()] = isolated
		if !isolated {
			n.AddDynamic(src)
		}
	}
	n.Attrs = attrs
	return nil
}

func sourcePath(n *Node) string {
	if a, ok := n.Attrs.(SourceAttrs); ok {
		return a.Path
	}
	return n.Name()
}

// IsolatedMembers returns the unity node's members currently excluded from
// the aggregate because they are being edited.
func IsolatedMembers(n *Node) []string {
	attrs, ok := n.Attrs.(UnityAttrs)
	if !ok {
		return nil
	}
	var out []string
	for name, isolated := range attrs.Isolated {
		if isolated {
			out = append(out, name)
		}
	}
	return out
}

// directoryListingDynamicDeps refreshes a DirectoryListingNode's dynamic
// dependency set from the live filesystem every pass, since a directory's
// contents can change without any explicit edge being touched.
func (g *NodeGraph) directoryListingDynamicDeps(n *Node, hooks Hooks) error {
	attrs := n.Attrs.(DirectoryListingAttrs)
	files, err := hooks.ListDirectory(attrs.Dir, attrs.Patterns, attrs.Recurse)
	if err != nil {
		return err
	}
	n.Dynamic = n.Dynamic[:0]
	for _, f := range files {
		src, err := hooks.ResolveSourceNode(f)
		if err != nil {
			return err
		}
		n.AddDynamic(src)
	}
	return nil
}
