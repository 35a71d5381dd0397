package graph

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestCreateNodeDuplicateRejected(t *testing.T) {
	g := New()
	if _, err := g.CreateSourceNode("foo.cpp", SourceAttrs{Path: "/src/foo.cpp"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateSourceNode("foo.cpp", SourceAttrs{Path: "/src/foo.cpp"}); err == nil {
		t.Fatal("expected ErrDuplicateName, got nil")
	}
}

func TestFindNode(t *testing.T) {
	g := New()
	want, err := g.CreateObjectNode("foo.obj", ObjectAttrs{OutputPath: "/out/foo.obj"})
	if err != nil {
		t.Fatal(err)
	}
	got := g.FindNode("foo.obj")
	if got != want {
		t.Fatalf("FindNode returned %v, want %v", got, want)
	}
	if g.FindNode("missing") != nil {
		t.Fatal("FindNode returned a node for a name that was never created")
	}
}

func TestCheckAcyclicDetectsCycle(t *testing.T) {
	g := New()
	a, err := g.CreateAliasNode("a", AliasAttrs{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.CreateAliasNode("b", AliasAttrs{})
	if err != nil {
		t.Fatal(err)
	}
	a.AddStatic(b, false)
	b.AddStatic(a, false)

	if err := g.CheckAcyclic(); err == nil {
		t.Fatal("expected ErrCyclicDependency, got nil")
	}
}

func TestCheckAcyclicAcceptsDAG(t *testing.T) {
	g := New()
	src, err := g.CreateSourceNode("foo.cpp", SourceAttrs{Path: "/src/foo.cpp"})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := g.CreateObjectNode("foo.obj", ObjectAttrs{})
	if err != nil {
		t.Fatal(err)
	}
	obj.AddStatic(src, false)
	exe, err := g.CreateExeNode("foo.exe", ExeAttrs{})
	if err != nil {
		t.Fatal(err)
	}
	exe.AddStatic(obj, false)

	if err := g.CheckAcyclic(); err != nil {
		t.Fatalf("CheckAcyclic on a valid DAG returned: %v", err)
	}
}

type fakeHooks struct {
	writable map[string]bool
}

func (f *fakeHooks) IsWritable(path string) bool { return f.writable[path] }
func (f *fakeHooks) ListDirectory(dir string, patterns []string, recurse bool) ([]string, error) {
	return nil, nil
}
func (f *fakeHooks) ResolveSourceNode(path string) (*Node, error) { return nil, nil }

func TestBuildPassStalenessAndStateMachine(t *testing.T) {
	g := New()
	hooks := &fakeHooks{writable: map[string]bool{}}

	src, err := g.CreateSourceNode("foo.cpp", SourceAttrs{Path: "/src/foo.cpp"})
	if err != nil {
		t.Fatal(err)
	}
	src.Stamp = 1 // source nodes are "built" once their content is stamped

	obj, err := g.CreateObjectNode("foo.obj", ObjectAttrs{})
	if err != nil {
		t.Fatal(err)
	}
	obj.AddStatic(src, false)

	pending, err := g.BuildPass([]*Node{obj}, false, hooks)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != obj {
		t.Fatalf("BuildPass(first pass) = %v, want [%v]", pending, obj)
	}
	if got, want := obj.State(), Building; got != want {
		t.Fatalf("obj.State() = %v, want %v", got, want)
	}

	// Simulate the driver finishing the build.
	obj.Stamp = 1
	obj.state = UpToDate
	obj.recordBuildStamps()

	// Re-running BuildPass with no stale deps should not re-queue the node.
	pending, err = g.BuildPass([]*Node{obj}, false, hooks)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("BuildPass(second pass, nothing stale) = %v, want empty", pending)
	}

	// Bumping the source stamp makes the dependent edge stale again.
	src.Stamp = 2
	obj.state = NotProcessed
	pending, err = g.BuildPass([]*Node{obj}, false, hooks)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != obj {
		t.Fatalf("BuildPass(after source stamp bump) = %v, want [%v]", pending, obj)
	}
}

func TestBuildPassPropagatesFailure(t *testing.T) {
	g := New()
	hooks := &fakeHooks{}

	src, err := g.CreateSourceNode("foo.cpp", SourceAttrs{Path: "/src/foo.cpp"})
	if err != nil {
		t.Fatal(err)
	}
	src.state = Failed

	obj, err := g.CreateObjectNode("foo.obj", ObjectAttrs{})
	if err != nil {
		t.Fatal(err)
	}
	obj.AddStatic(src, false)

	pending, err := g.BuildPass([]*Node{obj}, false, hooks)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("BuildPass with a failed dependency queued %v, want none", pending)
	}
	if got, want := obj.State(), Failed; got != want {
		t.Fatalf("obj.State() = %v, want %v", got, want)
	}
}

func TestUnityIsolation(t *testing.T) {
	g := New()

	var members []*Node
	for _, name := range []string{"a.cpp", "b.cpp", "c.cpp"} {
		src, err := g.CreateSourceNode(name, SourceAttrs{Path: "/src/" + name})
		if err != nil {
			t.Fatal(err)
		}
		members = append(members, src)
	}

	unity, err := g.CreateUnityNode("Unity1.cpp", UnityAttrs{OutputPattern: "Unity%d.cpp", NumFiles: 1})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		unity.AddStatic(m, false)
	}

	// "b.cpp" is currently open for editing (writable) and must be excluded
	// from the aggregate's dynamic dependency set.
	hooks := &fakeHooks{writable: map[string]bool{"/src/b.cpp": true}}

	if err := g.unityDynamicDeps(unity, hooks); err != nil {
		t.Fatal(err)
	}

	var gotNames []string
	for _, d := range unity.Dynamic {
		gotNames = append(gotNames, d.Target.Name())
	}
	want := []string{"a.cpp", "c.cpp"}
	opts := []cmp.Option{cmpopts.SortSlices(func(a, b string) bool { return a < b })}
	if diff := cmp.Diff(want, gotNames, opts...); diff != "" {
		t.Fatalf("unity dynamic deps after isolation: diff (-want +got):\n%s", diff)
	}

	isolated := IsolatedMembers(unity)
	if len(isolated) != 1 || isolated[0] != "b.cpp" {
		t.Fatalf("IsolatedMembers = %v, want [b.cpp]", isolated)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := New()
	src, err := g.CreateSourceNode("foo.cpp", SourceAttrs{Path: "/src/foo.cpp"})
	if err != nil {
		t.Fatal(err)
	}
	src.Stamp = 42

	obj, err := g.CreateObjectNode("foo.obj", ObjectAttrs{
		CompilerNode: "cl.exe",
		CompilerArgs: []string{"/c", "/O2"},
		OutputPath:   "/out/foo.obj",
	})
	if err != nil {
		t.Fatal(err)
	}
	obj.AddStatic(src, false)
	obj.AddPreBuild(src, true)
	obj.Stamp = 7
	g.UsedConfigFiles = []ConfigFileStamp{{Path: "/src/fbuild.bff", MtimeUnixNano: 1000}}

	var buf bytes.Buffer
	if err := g.Save(&buf); err != nil {
		t.Fatal(err)
	}

	stat := func(path string) (int64, bool) {
		if path == "/src/fbuild.bff" {
			return 1000, true
		}
		return 0, false
	}
	result, err := Load(&buf, stat)
	if err != nil {
		t.Fatal(err)
	}
	if result.NeedsReparse {
		t.Fatal("NeedsReparse = true, want false (config mtime unchanged)")
	}

	g2 := result.Graph
	gotSrc := g2.FindNode("foo.cpp")
	gotObj := g2.FindNode("foo.obj")
	if gotSrc == nil || gotObj == nil {
		t.Fatalf("round-tripped graph missing nodes: src=%v obj=%v", gotSrc, gotObj)
	}
	if gotSrc.Stamp != 42 {
		t.Fatalf("gotSrc.Stamp = %d, want 42", gotSrc.Stamp)
	}
	if gotObj.Stamp != 7 {
		t.Fatalf("gotObj.Stamp = %d, want 7", gotObj.Stamp)
	}
	gotAttrs, ok := gotObj.Attrs.(ObjectAttrs)
	if !ok {
		t.Fatalf("gotObj.Attrs type = %T, want ObjectAttrs", gotObj.Attrs)
	}
	wantAttrs := ObjectAttrs{
		CompilerNode: "cl.exe",
		CompilerArgs: []string{"/c", "/O2"},
		OutputPath:   "/out/foo.obj",
	}
	if diff := cmp.Diff(wantAttrs, gotAttrs); diff != "" {
		t.Fatalf("round-tripped ObjectAttrs: diff (-want +got):\n%s", diff)
	}
	if len(gotObj.Static) != 1 || gotObj.Static[0].Target != gotSrc {
		t.Fatalf("gotObj.Static = %v, want a single edge to %v", gotObj.Static, gotSrc)
	}
	if len(gotObj.PreBuild) != 1 || !gotObj.PreBuild[0].Weak {
		t.Fatalf("gotObj.PreBuild = %v, want a single weak edge", gotObj.PreBuild)
	}
}

func TestLoadNeedsReparseOnConfigMtimeChange(t *testing.T) {
	g := New()
	g.UsedConfigFiles = []ConfigFileStamp{{Path: "/src/fbuild.bff", MtimeUnixNano: 1000}}

	var buf bytes.Buffer
	if err := g.Save(&buf); err != nil {
		t.Fatal(err)
	}

	stat := func(path string) (int64, bool) { return 2000, true } // mtime moved
	result, err := Load(&buf, stat)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NeedsReparse {
		t.Fatal("NeedsReparse = false, want true after config mtime changed")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	result, err := LoadFromFile("/nonexistent/path/to/ngd", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NeedsReparse {
		t.Fatal("NeedsReparse = false, want true for a missing database file")
	}
	if len(result.Graph.Nodes()) != 0 {
		t.Fatal("expected an empty graph for a missing database file")
	}
}
