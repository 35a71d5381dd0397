package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nccbuild/fbuild/internal/cache"
	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/queue"
)

type fakeHooks struct{}

func (fakeHooks) IsWritable(path string) bool { return false }
func (fakeHooks) ListDirectory(dir string, patterns []string, recurse bool) ([]string, error) {
	return nil, nil
}
func (fakeHooks) ResolveSourceNode(path string) (*graph.Node, error) { return nil, nil }

func TestBuildObjectCompilesAndThenHitsCache(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "foo.c")
	if err := os.WriteFile(srcPath, []byte("int main(){return 0;}"), 0644); err != nil {
		t.Fatal(err)
	}
	objPath := filepath.Join(dir, "foo.o")

	g := graph.New()
	src, err := g.CreateSourceNode(srcPath, graph.SourceAttrs{Path: srcPath})
	if err != nil {
		t.Fatal(err)
	}
	_, err = g.CreateCompilerNode("cc", graph.CompilerAttrs{Executable: "sh"})
	if err != nil {
		t.Fatal(err)
	}
	// The fake "compiler" is a shell script invoked two ways: once in
	// preprocess-only mode (an "-E" token present among its args, used to
	// compute the cache key's source hash) where it must write the
	// translation unit's content to stdout, and once as a normal build
	// where it copies that same content to the object path.
	script := `pre=0; for a in "$@"; do case "$a" in -E) pre=1 ;; *) last="$a" ;; esac; done
if [ "$pre" = "1" ]; then cat "$last"; else cat "$last" > ` + objPath + `; fi`
	obj, err := g.CreateObjectNode("foo.o", graph.ObjectAttrs{
		CompilerNode: "cc",
		CompilerArgs: []string{"-c", script, "sh"},
		OutputPath:   objPath,
	})
	if err != nil {
		t.Fatal(err)
	}
	obj.AddStatic(src, false)

	cacheDir, err := cache.NewDir(filepath.Join(dir, "cache"), true, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Graph: g, Cache: cacheDir, Hooks: fakeHooks{}}

	result, _, err := d.doBuild(context.Background(), &queue.Job{Node: obj})
	if err != nil {
		t.Fatal(err)
	}
	if result != graph.ResultOK {
		t.Fatalf("first build result = %v, want ResultOK (cache miss)", result)
	}
	got, err := os.ReadFile(objPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "int main(){return 0;}" {
		t.Fatalf("object output = %q, want source content copied through", got)
	}
	if !obj.HasStatFlag(graph.StatCacheMiss) {
		t.Fatal("expected StatCacheMiss to be set on first build")
	}

	if err := os.Remove(objPath); err != nil {
		t.Fatal(err)
	}
	result, _, err = d.doBuild(context.Background(), &queue.Job{Node: obj})
	if err != nil {
		t.Fatal(err)
	}
	if result != graph.ResultOKCache {
		t.Fatalf("second build result = %v, want ResultOKCache", result)
	}
	got, err = os.ReadFile(objPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "int main(){return 0;}" {
		t.Fatalf("object output restored from cache = %q, want source content", got)
	}
}

// TestBuildObjectCacheMissesWhenIncludedHeaderChanges guards against
// computing the cache key's source-hash component from the translation
// unit's own raw content: editing a header the translation unit includes,
// without touching the translation unit itself, must still produce a
// cache miss, since the preprocessed text the compiler actually saw has
// changed.
func TestBuildObjectCacheMissesWhenIncludedHeaderChanges(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "foo.c")
	if err := os.WriteFile(srcPath, []byte(`#include "foo.h"`), 0644); err != nil {
		t.Fatal(err)
	}
	hdrPath := filepath.Join(dir, "foo.h")
	if err := os.WriteFile(hdrPath, []byte("#define N 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	objPath := filepath.Join(dir, "foo.o")

	g := graph.New()
	src, err := g.CreateSourceNode(srcPath, graph.SourceAttrs{Path: srcPath})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateCompilerNode("cc", graph.CompilerAttrs{Executable: "sh"}); err != nil {
		t.Fatal(err)
	}
	// In preprocess mode ("-E" present), the fake compiler concatenates
	// the header and the translation unit, standing in for the
	// preprocessor inlining the #include; in a normal build it only
	// copies the translation unit to the object path, so editing the
	// header never changes the built output, only the cache key.
	script := `pre=0; for a in "$@"; do case "$a" in -E) pre=1 ;; *) paths="$paths $a" ;; esac; done
set -- $paths
hdr="$1"; src="$2"
if [ "$pre" = "1" ]; then cat "$hdr" "$src"; else cat "$src" > ` + objPath + `; fi`
	obj, err := g.CreateObjectNode("foo.o", graph.ObjectAttrs{
		CompilerNode: "cc",
		CompilerArgs: []string{"-c", script, "sh", hdrPath},
		OutputPath:   objPath,
	})
	if err != nil {
		t.Fatal(err)
	}
	obj.AddStatic(src, false)

	cacheDir, err := cache.NewDir(filepath.Join(dir, "cache"), true, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Graph: g, Cache: cacheDir, Hooks: fakeHooks{}}

	result, _, err := d.doBuild(context.Background(), &queue.Job{Node: obj})
	if err != nil {
		t.Fatal(err)
	}
	if result != graph.ResultOK {
		t.Fatalf("first build result = %v, want ResultOK (cache miss)", result)
	}

	if err := os.WriteFile(hdrPath, []byte("#define N 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result, _, err = d.doBuild(context.Background(), &queue.Job{Node: obj})
	if err != nil {
		t.Fatal(err)
	}
	if result != graph.ResultOK {
		t.Fatalf("build result after editing header = %v, want ResultOK (cache miss), not a stale cache hit (ResultOKCache)", result)
	}
}

func TestBuildLinkedResolvesCompilerFromStaticDeps(t *testing.T) {
	dir := t.TempDir()
	objPath := filepath.Join(dir, "foo.o")
	if err := os.WriteFile(objPath, []byte("object contents"), 0644); err != nil {
		t.Fatal(err)
	}
	exePath := filepath.Join(dir, "prog")

	g := graph.New()
	obj, err := g.CreateObjectNode("foo.o", graph.ObjectAttrs{OutputPath: objPath})
	if err != nil {
		t.Fatal(err)
	}
	linker, err := g.CreateCompilerNode("ld", graph.CompilerAttrs{Executable: "sh"})
	if err != nil {
		t.Fatal(err)
	}
	exe, err := g.CreateExeNode("prog", graph.ExeAttrs{
		OutputPath: exePath,
		LinkerArgs: []string{"-c", `cat "$1" > "$3"`, "sh"},
	})
	if err != nil {
		t.Fatal(err)
	}
	exe.AddStatic(obj, false)
	exe.AddStatic(linker, true)

	d := &Driver{Graph: g}
	result, _, err := d.doBuild(context.Background(), &queue.Job{Node: exe})
	if err != nil {
		t.Fatal(err)
	}
	if result != graph.ResultOK {
		t.Fatalf("link result = %v, want ResultOK", result)
	}
	got, err := os.ReadFile(exePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "object contents" {
		t.Fatalf("linked output = %q, want %q", got, "object contents")
	}
}

func TestBuildCopyAndRemoveDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "sub", "b.txt")
	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	g := graph.New()
	copyNode, err := g.CreateCopyNode("copy", graph.CopyAttrs{Source: src, Dest: dst})
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Graph: g}
	if result, _, err := d.doBuild(context.Background(), &queue.Job{Node: copyNode}); err != nil || result != graph.ResultOK {
		t.Fatalf("copy build = %v, %v", result, err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("copied content = %q, want payload", got)
	}

	removeNode, err := g.CreateRemoveDirNode("rmdir", graph.RemoveDirAttrs{Dir: filepath.Join(dir, "sub")})
	if err != nil {
		t.Fatal(err)
	}
	if result, _, err := d.doBuild(context.Background(), &queue.Job{Node: removeNode}); err != nil || result != graph.ResultOK {
		t.Fatalf("removedir build = %v, %v", result, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub")); !os.IsNotExist(err) {
		t.Fatalf("directory still exists after RemoveDir build: %v", err)
	}
}

func TestBuildTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "generated.txt")
	g := graph.New()
	n, err := g.CreateTextFileNode("gen", graph.TextFileAttrs{OutputPath: path, Content: "hello\n"})
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Graph: g}
	if result, _, err := d.doBuild(context.Background(), &queue.Job{Node: n}); err != nil || result != graph.ResultOK {
		t.Fatalf("textfile build = %v, %v", result, err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("content = %q, want %q", got, "hello\n")
	}
}

func TestBuildExecRunsCommand(t *testing.T) {
	g := graph.New()
	n, err := g.CreateExecNode("run", graph.ExecAttrs{Cmd: "sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Graph: g}
	result, _, err := d.doBuild(context.Background(), &queue.Job{Node: n})
	if err != nil || result != graph.ResultOK {
		t.Fatalf("exec build = %v, %v", result, err)
	}
}

func TestBuildExecFailureReportsResultFailed(t *testing.T) {
	g := graph.New()
	n, err := g.CreateExecNode("run", graph.ExecAttrs{Cmd: "sh", Args: []string{"-c", "exit 1"}})
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Graph: g}
	result, _, err := d.doBuild(context.Background(), &queue.Job{Node: n})
	if err == nil {
		t.Fatal("expected an error from a nonzero exit command")
	}
	if result != graph.ResultFailed {
		t.Fatalf("result = %v, want ResultFailed", result)
	}
}

func TestReportString(t *testing.T) {
	r := Report{TargetsBuilt: 3, TargetsFailed: 1, CacheHits: 2, CacheMisses: 1}
	want := fmt.Sprintf("built=%d failed=%d cache_hits=%d cache_misses=%d", 3, 1, 2, 1)
	if got := r.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
