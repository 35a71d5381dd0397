package graph

// One constructor per node type, matching the distilled spec's
// "create_*_node(name, ...)" operation: each fails if a node of the same
// name already exists (ErrDuplicateName), otherwise registers the node in
// the hash index and assigns it a dense index.

func (g *NodeGraph) CreateSourceNode(name string, attrs SourceAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeSource, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateObjectNode(name string, attrs ObjectAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeObject, FlagNone, attrs))
}

func (g *NodeGraph) CreateObjectListNode(name string, attrs ObjectListAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeObjectList, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateLibraryNode(name string, attrs LibraryAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeStaticLibrary, FlagNone, attrs))
}

func (g *NodeGraph) CreateDLLNode(name string, attrs DLLAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeSharedLibrary, FlagNone, attrs))
}

func (g *NodeGraph) CreateExeNode(name string, attrs ExeAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeExecutable, FlagNone, attrs))
}

func (g *NodeGraph) CreateAliasNode(name string, attrs AliasAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeAlias, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateDirectoryListingNode(name string, attrs DirectoryListingAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeDirectoryListing, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateUnityNode(name string, attrs UnityAttrs) (*Node, error) {
	if attrs.Isolated == nil {
		attrs.Isolated = make(map[string]bool)
	}
	return g.createNode(newNode(name, TypeUnity, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateCopyNode(name string, attrs CopyAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeCopy, FlagNone, attrs))
}

func (g *NodeGraph) CreateCopyDirNode(name string, attrs CopyDirAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeCopyDir, FlagNone, attrs))
}

func (g *NodeGraph) CreateRemoveDirNode(name string, attrs RemoveDirAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeRemoveDir, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateExecNode(name string, attrs ExecAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeExec, FlagNone, attrs))
}

func (g *NodeGraph) CreateTestNode(name string, attrs TestAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeTest, FlagKeepOnFailure, attrs))
}

func (g *NodeGraph) CreateCompilerNode(name string, attrs CompilerAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeCompiler, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateCompilerInfoNode(name string, attrs CompilerInfoAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeCompilerInfo, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateSettingsNode(name string, attrs SettingsAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeSettings, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateWorkerSettingsNode(name string, attrs WorkerSettingsAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeWorkerSettings, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateTextFileNode(name string, attrs TextFileAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeTextFile, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateListDependenciesNode(name string, attrs ListDependenciesAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeListDependencies, FlagTrivialBuild, attrs))
}

func (g *NodeGraph) CreateProxyNode(name string, attrs ProxyAttrs) (*Node, error) {
	return g.createNode(newNode(name, TypeProxy, FlagTrivialBuild, attrs))
}
