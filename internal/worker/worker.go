// Package worker implements local worker threads: goroutines that
// pull Jobs from the queue, invoke external tools, and report results back
// for main-thread finalization.
package worker

import (
	"context"
	"sync"

	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/queue"
)

// BuildFunc performs a single Job's build (the per-type `do_build`),
// returning the four-valued result (expanded
// FEATURES: BuildResult has four outcomes, not two).
type BuildFunc func(ctx context.Context, j *queue.Job) (graph.BuildResult, []byte, error)

// Pool runs numWorkers goroutines, each looping
// GetJobToProcess -> BuildFunc -> FinishedProcessingJob, until the queue's
// abort flag is set or ctx is canceled. Matches the "start the
// Job Queue with num_worker_threads workers (default cores-1)".
type Pool struct {
	q       *queue.Queue
	build   BuildFunc
	onError func(j *queue.Job, err error)

	wg sync.WaitGroup
}

func NewPool(q *queue.Queue, build BuildFunc, onError func(j *queue.Job, err error)) *Pool {
	if onError == nil {
		onError = func(*queue.Job, error) {}
	}
	return &Pool{q: q, build: build, onError: onError}
}

// Start launches numWorkers goroutines; call Wait to block until they all
// exit (which happens once the queue is aborted or ctx is canceled).
func (p *Pool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		j, err := p.q.GetJobToProcess(ctx)
		if err != nil {
			return
		}
		if j == nil {
			return // queue aborted
		}
		p.runJob(ctx, j)
	}
}

func (p *Pool) runJob(ctx context.Context, j *queue.Job) {
	result, data, err := p.build(ctx, j)
	wasRemote := false // local worker pool; remote completion path is internal/dist
	if err != nil {
		p.onError(j, err)
		result = graph.ResultFailed
	}
	p.q.FinishedProcessingJob(j, result, data, wasRemote)
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() { p.wg.Wait() }
