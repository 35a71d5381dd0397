// Package driver implements the Build Driver (C10): it resolves targets
// against the node graph, starts the Job Queue and worker pool, loops
// BuildPass/FinalizeCompletedJobs to completion, and reports final
// statistics.
package driver

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/xerrors"

	"github.com/nccbuild/fbuild/internal/blog"
	"github.com/nccbuild/fbuild/internal/cache"
	"github.com/nccbuild/fbuild/internal/dist"
	"github.com/nccbuild/fbuild/internal/fstate"
	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/monitor"
	"github.com/nccbuild/fbuild/internal/queue"
	"github.com/nccbuild/fbuild/internal/worker"
)

// Driver owns one build: the node graph it walks, the job queue and
// worker pool it schedules onto, and the cache it consults.
type Driver struct {
	Graph      *graph.NodeGraph
	Cache      cache.Cache
	Hooks      graph.Hooks
	Logger     *blog.Logger
	Monitor    *monitor.Server
	NumWorkers int
	ForceClean bool

	// RemoteWorkers, when non-empty, are host:port addresses of
	// Distribution Protocol servers (internal/dist.Server instances,
	// typically fbuild-worker) that Build dials one dist.WorkerConn
	// against apiece, each pulling distributable jobs off the same local
	// queue the worker pool draws from.
	RemoteWorkers []string

	// progressEMA smooths the fraction-built signal reported to the
	// monitor page, using an exponentially-weighted
	// moving average rather than a raw instantaneous ratio (which jitters
	// sharply whenever a big node finishes).
	progressEMA float64
}

// Report summarizes one completed build ("statistics
// reporting"), broken down by node type so a caller can print a
// FASTBuild-style per-type line.
type Report struct {
	TargetsBuilt  int
	TargetsFailed int
	CacheHits     int
	CacheMisses   int
	ByType        map[graph.Type]int
	FailedNames   []string
}

// ErrBuildFailed is returned (wrapping no further detail) when one or more
// targets ended in the Failed state; Report still holds the full
// breakdown.
var ErrBuildFailed = xerrors.New("driver: build failed")

const progressEMAAlpha = 0.2

// Build resolves targetNames against d.Graph, then drives the build to
// completion: repeated BuildPass calls feed newly-ready nodes to the
// queue, FinalizeCompletedJobs commits their results back onto the graph,
// and the loop exits once every target has reached a terminal state.
func (d *Driver) Build(ctx context.Context, targetNames []string) (Report, error) {
	targets := make([]*graph.Node, 0, len(targetNames))
	for _, name := range targetNames {
		n := d.Graph.FindNode(name)
		if n == nil {
			return Report{}, xerrors.Errorf("driver: unknown target %q", name)
		}
		targets = append(targets, n)
	}
	if err := d.Graph.CheckAcyclic(); err != nil {
		return Report{}, xerrors.Errorf("driver: %w", err)
	}

	distCtx, cancelDist := context.WithCancel(ctx)
	defer cancelDist()

	q := queue.New(int64(d.numWorkers()))
	pool := worker.NewPool(q, d.doBuild, func(j *queue.Job, err error) {
		if d.Logger != nil {
			d.Logger.Errorf("job for %s: %v", j.Node.Name(), err)
		}
	})
	pool.Start(ctx, d.numWorkers())
	defer func() {
		q.Abort()
		pool.Wait()
	}()

	var stdLogger *log.Logger
	if d.Logger != nil {
		stdLogger = d.Logger.StdLogger()
	}
	for _, addr := range d.RemoteWorkers {
		c := dist.NewWorkerConn(addr, q, stdLogger)
		go c.Run(distCtx)
	}

	report := Report{ByType: make(map[graph.Type]int)}
	totalNodes := len(d.Graph.Nodes())

	for {
		pending, err := d.Graph.BuildPass(targets, d.ForceClean, d.Hooks)
		if err != nil {
			return report, xerrors.Errorf("driver: build pass: %w", err)
		}
		for _, n := range pending {
			if n.Control&graph.FlagTrivialBuild != 0 {
				result, _, err := d.doBuild(ctx, &queue.Job{Node: n})
				if err != nil && d.Logger != nil {
					d.Logger.Errorf("trivial build of %s: %v", n.Name(), err)
				}
				n.CompleteBuild(result, nextStamp(n))
				continue
			}
			var inputs []byte
			var toolID uint64
			if d.isDistributable(n) {
				var err error
				inputs, toolID, err = d.buildRemoteInputs(n)
				if err != nil {
					if d.Logger != nil {
						d.Logger.Errorf("preparing %s for distribution, building locally instead: %v", n.Name(), err)
					}
					q.QueueJob(n, nil, 0, false)
					continue
				}
			}
			q.QueueJob(n, inputs, toolID, inputs != nil)
		}

		done := q.FinalizeCompletedJobs()
		for _, j := range done {
			if len(j.ResultData) > 0 && j.Result == graph.ResultOK {
				if err := writeRemoteObjectOutput(j.Node, j.ResultData); err != nil && d.Logger != nil {
					d.Logger.Errorf("writing remote build output for %s: %v", j.Node.Name(), err)
				}
			}
			j.Node.CompleteBuild(j.Result, nextStamp(j.Node))
			d.tally(&report, j.Node, j.Result)
		}

		if d.allTerminal(targets) {
			break
		}
		if len(pending) == 0 && len(done) == 0 {
			q.MainThreadWait(ctx)
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
		}
		if d.Monitor != nil {
			d.updateMonitor(totalNodes, report)
		}
	}

	for _, t := range targets {
		if t.State() == graph.Failed {
			report.FailedNames = append(report.FailedNames, t.Name())
		}
	}
	if len(report.FailedNames) > 0 {
		return report, ErrBuildFailed
	}
	return report, nil
}

func (d *Driver) numWorkers() int {
	if d.NumWorkers > 0 {
		return d.NumWorkers
	}
	return 1
}

// isDistributable reports whether a node's job may be handed to a remote
// worker: only compiles (the common case) are eligible —
// links and local filesystem operations stay on the main machine since
// they need the full output tree.
func (d *Driver) isDistributable(n *graph.Node) bool {
	return n.Type == graph.TypeObject
}

func (d *Driver) allTerminal(targets []*graph.Node) bool {
	for _, t := range targets {
		switch t.State() {
		case graph.UpToDate, graph.Failed:
		default:
			return false
		}
	}
	return true
}

func (d *Driver) tally(r *Report, n *graph.Node, result graph.BuildResult) {
	r.ByType[n.Type]++
	switch result {
	case graph.ResultOK:
		r.TargetsBuilt++
	case graph.ResultOKCache:
		r.TargetsBuilt++
		r.CacheHits++
	case graph.ResultFailed:
		r.TargetsFailed++
	}
	if n.HasStatFlag(graph.StatCacheMiss) {
		r.CacheMisses++
	}
}

func (d *Driver) updateMonitor(totalNodes int, r Report) {
	built := r.TargetsBuilt + r.TargetsFailed
	instant := 0.0
	if totalNodes > 0 {
		instant = float64(built) / float64(totalNodes)
	}
	d.progressEMA = progressEMAAlpha*instant + (1-progressEMAAlpha)*d.progressEMA
	d.Monitor.Update(monitor.Snapshot{
		TargetsTotal:  totalNodes,
		TargetsBuilt:  r.TargetsBuilt,
		TargetsFailed: r.TargetsFailed,
		ProgressEMA:   d.progressEMA,
		CacheHits:     r.CacheHits,
		CacheMisses:   r.CacheMisses,
	})
}

// nextStamp computes a node's post-build stamp: the content hash of its
// primary output file for file-producing types, or a monotonically
// distinct non-zero value for logical nodes that produce no file (only
// non-zero matters, not content-derived, for those).
func nextStamp(n *graph.Node) uint64 {
	path := outputPath(n)
	if path == "" {
		return n.Stamp + 1
	}
	stamp, err := fstate.Stamp(path)
	if err != nil || stamp == 0 {
		return n.Stamp + 1
	}
	return stamp
}

func outputPath(n *graph.Node) string {
	switch a := n.Attrs.(type) {
	case graph.ObjectAttrs:
		return a.OutputPath
	case graph.LibraryAttrs:
		return a.OutputPath
	case graph.DLLAttrs:
		return a.OutputPath
	case graph.ExeAttrs:
		return a.OutputPath
	case graph.TextFileAttrs:
		return a.OutputPath
	case graph.CopyAttrs:
		return a.Dest
	default:
		return ""
	}
}

func (r Report) String() string {
	return fmt.Sprintf("built=%d failed=%d cache_hits=%d cache_misses=%d", r.TargetsBuilt, r.TargetsFailed, r.CacheHits, r.CacheMisses)
}
