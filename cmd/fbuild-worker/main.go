// Command fbuild-worker runs the worker side of the Distribution Protocol
// it accepts connections from fbuild drivers, runs whatever
// compile jobs they dispatch, and reports results back. It never parses a
// project file or a node graph itself — it only ever sees one job's worth
// of already-resolved compiler invocation at a time.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fbuild "github.com/nccbuild/fbuild"
	"github.com/nccbuild/fbuild/internal/blog"
	"github.com/nccbuild/fbuild/internal/dist"
	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/manifest"
	"github.com/nccbuild/fbuild/internal/worker"
)

var (
	listen   = flag.String("listen", ":3589", "address to accept driver connections on")
	storeDir = flag.String("store", "/var/cache/fbuild-worker", "directory tool manifests are staged under (one subdirectory per tool id, named by its hex id); scanned and marked ready at startup")
	tags     = flag.String("tags", "", "comma-separated worker tags advertised to drivers")
	capacity = flag.Int("capacity", 0, "stored on the server but not enforced: each driver connection runs its jobs one at a time and connections are not limited")
	verbose  = flag.Bool("verbose", false, "enable verbose/trace logging")
)

// runJob materializes a dispatched RemoteJobSpec under the manifest
// directory for toolID and invokes the compiler, satisfying
// dist.ServerRunJob. It never touches the driver's filesystem: every path
// it deals with is either inside the tool manifest directory or a scratch
// directory of its own.
func runJob(store *manifest.Store, blogger *blog.Logger) dist.ServerRunJob {
	return func(ctx context.Context, toolID uint64, nodeName string, inputs []byte) (graph.BuildResult, bool, string, []byte, error) {
		spec, err := dist.UnmarshalRemoteJobSpec(inputs)
		if err != nil {
			return graph.ResultFailed, true, "", nil, fmt.Errorf("decoding job for %s: %w", nodeName, err)
		}

		if !store.IsReady(toolID) {
			return graph.ResultFailed, true, fmt.Sprintf("tool manifest %x not synced on this worker", toolID), nil, nil
		}
		toolDir := store.Dir(toolID)
		toolPath := filepath.Join(toolDir, spec.ToolRelPath)

		scratch, err := os.MkdirTemp("", "fbuild-worker-job-")
		if err != nil {
			return graph.ResultFailed, true, "", nil, err
		}
		defer os.RemoveAll(scratch)

		srcPath := filepath.Join(scratch, "src"+filepath.Ext(spec.OutputName))
		if err := os.WriteFile(srcPath, spec.Source, 0644); err != nil {
			return graph.ResultFailed, true, "", nil, err
		}
		outPath := filepath.Join(scratch, "out"+filepath.Ext(spec.OutputName))

		args := substituteOutputPath(spec.Args, spec.OutputPath, outPath)
		args = append(args, srcPath)

		blogger.Tracef("running %s for %s", toolPath, nodeName)
		res, err := worker.RunTool(ctx, scratch, toolPath, args, nil)
		if err != nil {
			return graph.ResultFailed, true, "", nil, err
		}
		if res.ExitCode != 0 {
			return graph.ResultFailed, false, string(res.Stderr), nil, nil
		}

		output, err := os.ReadFile(outPath)
		if err != nil {
			return graph.ResultFailed, true, "", nil, fmt.Errorf("reading compiler output for %s: %w", nodeName, err)
		}
		return graph.ResultOK, false, string(res.Stderr), output, nil
	}
}

// substituteOutputPath replaces every occurrence of the driver-local
// output path with the worker's own scratch path, handling both the
// common "-o", "<path>" two-token form and a single "-o<path>" token.
func substituteOutputPath(args []string, driverPath, workerPath string) []string {
	if driverPath == "" {
		return append([]string(nil), args...)
	}
	out := make([]string, len(args))
	for i, a := range args {
		switch {
		case a == driverPath:
			out[i] = workerPath
		case strings.HasSuffix(a, driverPath) && a != driverPath:
			out[i] = strings.TrimSuffix(a, driverPath) + workerPath
		default:
			out[i] = a
		}
	}
	return out
}

func main() {
	flag.Parse()
	blog.SetVerbose(*verbose)
	blogger := blog.New("fbuild-worker")

	if err := os.MkdirAll(*storeDir, 0755); err != nil {
		blogger.Errorf("creating store directory %s: %v", *storeDir, err)
		os.Exit(1)
	}
	store := manifest.NewStore(*storeDir)

	var tagList []string
	if *tags != "" {
		tagList = strings.Split(*tags, ",")
	}

	srv := &dist.Server{
		Addr:     *listen,
		Tags:     tagList,
		Store:    store,
		RunJob:   runJob(store, blogger),
		Logger:   blogger.StdLogger(),
		Capacity: *capacity,
	}

	ctx, canc := fbuild.InterruptibleContext()
	defer canc()

	ln, err := srv.Listen()
	if err != nil {
		blogger.Errorf("%v", err)
		os.Exit(1)
	}
	blogger.Printf("listening on %s", ln.Addr())

	if err := srv.Serve(ctx, ln); err != nil {
		blogger.Errorf("%v", err)
		os.Exit(1)
	}
}
