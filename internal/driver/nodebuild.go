package driver

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/nccbuild/fbuild/internal/dist"
	"github.com/nccbuild/fbuild/internal/fstate"
	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/queue"
	"github.com/nccbuild/fbuild/internal/scan"
	"github.com/nccbuild/fbuild/internal/worker"
)

// doBuild is the BuildFunc handed to worker.Pool and, for trivial-build
// nodes, invoked directly from the main loop: the per-type build dispatch.
func (d *Driver) doBuild(ctx context.Context, j *queue.Job) (graph.BuildResult, []byte, error) {
	n := j.Node
	switch n.Type {
	case graph.TypeObject:
		return d.buildObject(ctx, n)
	case graph.TypeStaticLibrary, graph.TypeSharedLibrary, graph.TypeExecutable:
		return d.buildLinked(ctx, n)
	case graph.TypeCopy:
		return d.buildCopy(n)
	case graph.TypeCopyDir:
		return d.buildCopyDir(n)
	case graph.TypeRemoveDir:
		return d.buildRemoveDir(n)
	case graph.TypeExec, graph.TypeTest:
		return d.buildExec(ctx, n)
	case graph.TypeTextFile:
		return d.buildTextFile(n)
	case graph.TypeSource, graph.TypeAlias, graph.TypeObjectList, graph.TypeDirectoryListing,
		graph.TypeUnity, graph.TypeCompiler, graph.TypeCompilerInfo, graph.TypeSettings,
		graph.TypeWorkerSettings, graph.TypeListDependencies, graph.TypeProxy:
		// Logical nodes: their state transition is the whole of their
		// "build" (membership recompute, settings propagation, etc. already
		// happened in BuildPass's doDynamicDependencies hook).
		return graph.ResultOK, nil, nil
	default:
		return graph.ResultFailed, nil, xerrors.Errorf("driver: unknown node type %v", n.Type)
	}
}

func (d *Driver) compilerFor(n *graph.Node) (*graph.Node, graph.CompilerAttrs, error) {
	var compilerName string
	switch a := n.Attrs.(type) {
	case graph.ObjectAttrs:
		compilerName = a.CompilerNode
	case graph.ObjectListAttrs:
		compilerName = a.CompilerNode
	}
	c := d.Graph.FindNode(compilerName)
	if c == nil {
		return nil, graph.CompilerAttrs{}, xerrors.Errorf("driver: compiler node %q not found", compilerName)
	}
	ca, ok := c.Attrs.(graph.CompilerAttrs)
	if !ok {
		return nil, graph.CompilerAttrs{}, xerrors.Errorf("driver: %q is not a compiler node", compilerName)
	}
	return c, ca, nil
}

// buildObject compiles a single translation unit ("Object
// node build"): check the cache first, keyed on the preprocessed-source
// hash, command line, toolchain id and PCH id; on a miss, invoke the
// compiler, scan its include output to extend Dynamic deps for the next
// build, and publish the result.
func (d *Driver) buildObject(ctx context.Context, n *graph.Node) (graph.BuildResult, []byte, error) {
	attrs := n.Attrs.(graph.ObjectAttrs)
	compiler, compilerAttrs, err := d.compilerFor(n)
	if err != nil {
		return graph.ResultFailed, nil, err
	}

	sourceHash, err := d.preprocessedSourceHash(ctx, compilerAttrs, attrs, sourceNodePath(n))
	if err != nil {
		return graph.ResultFailed, nil, err
	}
	toolID, err := d.toolIDFor(compiler)
	if err != nil {
		return graph.ResultFailed, nil, err
	}
	key := fstate.NewKey(sourceHash, attrs.CompilerArgs, toolID, pchHash(attrs.PrecompiledHdr), '1')

	if d.Cache != nil {
		if records, hit, err := d.Cache.Retrieve(key.String()); err == nil && hit && len(records) > 0 {
			if err := writeFileAtomically(attrs.OutputPath, records[0]); err == nil {
				n.SetStatFlag(graph.StatCacheHit)
				return graph.ResultOKCache, nil, nil
			}
		}
	}
	n.SetStatFlag(graph.StatCacheMiss)

	res, err := worker.RunTool(ctx, "", compilerAttrs.Executable, append(attrs.CompilerArgs, sourceNodePath(n)), nil)
	if err != nil {
		return graph.ResultFailed, nil, err
	}
	if res.ExitCode != 0 {
		return graph.ResultFailed, nil, xerrors.Errorf("driver: %s exited %d: %s", compilerAttrs.Executable, res.ExitCode, res.Stderr)
	}

	if err := d.scanIncludes(n, res.Stdout, res.Stderr); err != nil && d.Logger != nil {
		d.Logger.Errorf("scanning includes for %s: %v", n.Name(), err)
	}

	if d.Cache != nil {
		if out, err := os.ReadFile(attrs.OutputPath); err == nil {
			d.Cache.Publish(key.String(), [][]byte{out})
		}
	}
	n.SetStatFlag(graph.StatBuilt)
	return graph.ResultOK, nil, nil
}

// buildRemoteInputs prepares an Object node's job for dispatch to a
// remote worker: it resolves the compiler and embeds the translation
// unit's own content directly in the job payload, so a worker needs only
// its synced tool manifest for toolID to run the compile without ever
// touching the driver's filesystem.
func (d *Driver) buildRemoteInputs(n *graph.Node) ([]byte, uint64, error) {
	attrs, ok := n.Attrs.(graph.ObjectAttrs)
	if !ok {
		return nil, 0, nil
	}
	compiler, compilerAttrs, err := d.compilerFor(n)
	if err != nil {
		return nil, 0, err
	}
	toolID, err := d.toolIDFor(compiler)
	if err != nil {
		return nil, 0, err
	}
	source, err := os.ReadFile(sourceNodePath(n))
	if err != nil {
		return nil, 0, err
	}
	spec := dist.RemoteJobSpec{
		ToolRelPath: filepath.Base(compilerAttrs.Executable),
		Args:        attrs.CompilerArgs,
		Source:      source,
		OutputPath:  attrs.OutputPath,
		OutputName:  filepath.Base(attrs.OutputPath),
	}
	return dist.MarshalRemoteJobSpec(spec), toolID, nil
}

// scanIncludes runs the include scanner over a compiler's diagnostic
// output and wires every newly discovered header in as a Dynamic
// dependency of n for the next build.
func (d *Driver) scanIncludes(n *graph.Node, stdout, stderr []byte) error {
	if d.Hooks == nil {
		return nil
	}
	sc := scan.NewScanner(scan.FamilyGCCPreprocessed, func(p string) string { return graph.CleanPath("", p) }, false)
	if err := sc.Scan(stdout); err != nil {
		return err
	}
	if err := sc.Scan(stderr); err != nil {
		return err
	}
	for _, path := range sc.Headers {
		hn, err := d.Hooks.ResolveSourceNode(path)
		if err != nil {
			return err
		}
		n.AddDynamic(hn)
	}
	return nil
}

func (d *Driver) toolIDFor(compiler *graph.Node) (uint64, error) {
	// The compiler's own identity stamp doubles as its toolchain id: it is
	// the content stamp of its executable alone. Any extra files of the
	// compiler are not included, so this is not the tool id that
	// internal/manifest.Build computes over a whole toolchain directory.
	attrs := compiler.Attrs.(graph.CompilerAttrs)
	h, err := fstate.Stamp(attrs.Executable)
	if err != nil {
		return 0, err
	}
	return h, nil
}

// preprocessedSourceHash runs the compiler in preprocess-only mode and
// hashes its output, with #line directive paths stripped first, so the
// cache key's source component reflects everything the preprocessor
// actually inlined — a header-only edit changes this hash even though
// the translation unit's own file content did not.
func (d *Driver) preprocessedSourceHash(ctx context.Context, compilerAttrs graph.CompilerAttrs, attrs graph.ObjectAttrs, srcPath string) (uint64, error) {
	args := append(preprocessArgs(attrs.CompilerArgs, attrs.OutputPath), srcPath)
	res, err := worker.RunTool(ctx, "", compilerAttrs.Executable, args, nil)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, xerrors.Errorf("driver: preprocessing %s: %s exited %d: %s", srcPath, compilerAttrs.Executable, res.ExitCode, res.Stderr)
	}
	return fstate.HashReader(bytes.NewReader(fstate.StripLineDirectivePaths(res.Stdout)))
}

// preprocessArgs rewrites a compile command line into a preprocess-only
// one: the output-path argument (in either "-o path" or "-opath" form) is
// dropped since the preprocessed stream is wanted on stdout, and "-E" is
// appended to ask for it.
func preprocessArgs(args []string, outputPath string) []string {
	out := make([]string, 0, len(args)+1)
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "-o" && i+1 < len(args) && args[i+1] == outputPath {
			i++
			continue
		}
		if outputPath != "" && a == "-o"+outputPath {
			continue
		}
		out = append(out, a)
	}
	return append(out, "-E")
}

func sourceNodePath(n *graph.Node) string {
	for _, d := range n.Static {
		if d.Target.Type == graph.TypeSource {
			if sa, ok := d.Target.Attrs.(graph.SourceAttrs); ok {
				return sa.Path
			}
		}
	}
	return ""
}

func pchHash(id string) uint64 {
	if id == "" {
		return 0
	}
	h, _ := fstate.HashReader(strings.NewReader(id))
	return h
}

// buildLinked links a static library, shared library, or executable from
// its already-built Object/ObjectList dependencies.
func (d *Driver) buildLinked(ctx context.Context, n *graph.Node) (graph.BuildResult, []byte, error) {
	var outputPath string
	var args []string
	switch a := n.Attrs.(type) {
	case graph.LibraryAttrs:
		outputPath = a.OutputPath
	case graph.DLLAttrs:
		outputPath = a.OutputPath
	case graph.ExeAttrs:
		outputPath = a.OutputPath
		args = a.LinkerArgs
	}
	compiler, compilerAttrs, err := d.compilerFor(n)
	if err != nil || compiler == nil {
		// A link step's linker is modeled the same way as a compile step's
		// compiler: resolved from the first Compiler-typed static
		// dependency, if any was wired in by configuration.
		for _, dep := range n.Static {
			if dep.Target.Type == graph.TypeCompiler {
				compiler = dep.Target
				compilerAttrs = dep.Target.Attrs.(graph.CompilerAttrs)
				err = nil
				break
			}
		}
	}
	if err != nil {
		return graph.ResultFailed, nil, err
	}
	if compiler == nil {
		return graph.ResultFailed, nil, xerrors.Errorf("driver: no linker configured for %s", n.Name())
	}

	var inputs []string
	for _, dep := range n.Static {
		if dep.Target.IsAFile() && dep.Target.Type != graph.TypeCompiler {
			inputs = append(inputs, outputPathOf(dep.Target))
		}
	}
	fullArgs := append(append([]string{}, args...), inputs...)
	fullArgs = append(fullArgs, "-o", outputPath)

	res, err := worker.RunTool(ctx, "", compilerAttrs.Executable, fullArgs, nil)
	if err != nil {
		return graph.ResultFailed, nil, err
	}
	if res.ExitCode != 0 {
		return graph.ResultFailed, nil, xerrors.Errorf("driver: link of %s exited %d: %s", n.Name(), res.ExitCode, res.Stderr)
	}
	return graph.ResultOK, nil, nil
}

func outputPathOf(n *graph.Node) string {
	return outputPath(n)
}

func (d *Driver) buildCopy(n *graph.Node) (graph.BuildResult, []byte, error) {
	a := n.Attrs.(graph.CopyAttrs)
	if err := copyFile(a.Source, a.Dest); err != nil {
		return graph.ResultFailed, nil, err
	}
	return graph.ResultOK, nil, nil
}

func (d *Driver) buildCopyDir(n *graph.Node) (graph.BuildResult, []byte, error) {
	a := n.Attrs.(graph.CopyDirAttrs)
	err := filepath.Walk(a.SourceDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, err := filepath.Rel(a.SourceDir, path)
		if err != nil {
			return err
		}
		return copyFile(path, filepath.Join(a.DestDir, rel))
	})
	if err != nil {
		return graph.ResultFailed, nil, err
	}
	return graph.ResultOK, nil, nil
}

func (d *Driver) buildRemoveDir(n *graph.Node) (graph.BuildResult, []byte, error) {
	a := n.Attrs.(graph.RemoveDirAttrs)
	if err := os.RemoveAll(a.Dir); err != nil {
		return graph.ResultFailed, nil, err
	}
	return graph.ResultOK, nil, nil
}

func (d *Driver) buildExec(ctx context.Context, n *graph.Node) (graph.BuildResult, []byte, error) {
	var cmd string
	var args []string
	var dir string
	switch a := n.Attrs.(type) {
	case graph.ExecAttrs:
		cmd, args, dir = a.Cmd, a.Args, a.WorkingDir
	case graph.TestAttrs:
		cmd, args = a.Cmd, a.Args
	}
	res, err := worker.RunTool(ctx, dir, cmd, args, nil)
	if err != nil {
		return graph.ResultFailed, nil, err
	}
	if res.ExitCode != 0 {
		return graph.ResultFailed, nil, xerrors.Errorf("driver: %s exited %d: %s", cmd, res.ExitCode, res.Stderr)
	}
	return graph.ResultOK, nil, nil
}

func (d *Driver) buildTextFile(n *graph.Node) (graph.BuildResult, []byte, error) {
	a := n.Attrs.(graph.TextFileAttrs)
	if err := writeFileAtomically(a.OutputPath, []byte(a.Content)); err != nil {
		return graph.ResultFailed, nil, err
	}
	return graph.ResultOK, nil, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeRemoteObjectOutput lands a remote worker's compiled output at the
// path the local build would have produced it at, so downstream link
// steps see it exactly as if it had been built on this machine.
func writeRemoteObjectOutput(n *graph.Node, data []byte) error {
	attrs, ok := n.Attrs.(graph.ObjectAttrs)
	if !ok {
		return nil
	}
	return writeFileAtomically(attrs.OutputPath, data)
}

func writeFileAtomically(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
