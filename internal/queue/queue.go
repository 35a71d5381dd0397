package queue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nccbuild/fbuild/internal/graph"
)

// costHeap orders Jobs by descending Node.RecursiveCost (largest-first) so
// critical-path work starts early, matching the "Local ready
// queue" ordering.
type costHeap []*Job

func (h costHeap) Len() int { return len(h) }
func (h costHeap) Less(i, j int) bool {
	return h[i].Node.RecursiveCost > h[j].Node.RecursiveCost
}
func (h costHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *costHeap) Push(x interface{}) { *h = append(*h, x.(*Job)) }
func (h *costHeap) Pop() interface{} {
	old := *h
	n := len(old)
	j := old[n-1]
	*h = old[:n-1]
	return j
}

// Queue owns every structure needed for scheduling: the local ready queue, the
// distributable-available queue, the distributable-in-progress set, and
// the completed queue, each behind its own mutex per the "distinct mutex"
// ordering guarantee.
type Queue struct {
	nextID uint64

	localMu    sync.Mutex
	local      costHeap
	workerWake chan struct{} // signaled once per job pushed; buffered, never blocks QueueJob

	distMu              sync.Mutex
	distAvailable       []*Job
	distInProgress      map[uint64]*Job

	completedMu sync.Mutex
	completed   []*Job
	mainWake    chan struct{}

	// localSlots bounds concurrent local build execution, the
	// weighted-semaphore role ("worker-thread
	// semaphore"); wake-up signaling itself uses workerWake/mainWake
	// channels, the idiomatic Go primitive for "something happened" rather
	// than a counting resource.
	localSlots *semaphore.Weighted

	aborted int32
	abortCh chan struct{}
}

func New(maxConcurrentLocal int64) *Queue {
	return &Queue{
		workerWake:     make(chan struct{}, 1<<16),
		distInProgress: make(map[uint64]*Job),
		mainWake:       make(chan struct{}, 1<<16),
		localSlots:     semaphore.NewWeighted(maxConcurrentLocal),
		abortCh:        make(chan struct{}),
	}
}

func (q *Queue) wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// QueueJob is the main-thread operation: a trivial-build
// node runs inline (the caller is expected to check Node.Control itself,
// since running it is a Driver concern, not a queue concern); everything
// else is pushed here, distributable nodes additionally becoming eligible
// for the distributable-available queue.
func (q *Queue) QueueJob(n *graph.Node, inputs []byte, toolID uint64, distributable bool) *Job {
	id := atomic.AddUint64(&q.nextID, 1)
	j := newJob(id, n, inputs, toolID, distributable)

	q.localMu.Lock()
	heap.Push(&q.local, j)
	q.localMu.Unlock()
	q.wake(q.workerWake)

	if distributable {
		j.setState(DistAvailable)
		q.distMu.Lock()
		q.distAvailable = append(q.distAvailable, j)
		q.distMu.Unlock()
	}
	return j
}

// GetJobToProcess is the worker-thread pull: pop the
// highest-cost ready Job. Blocks (respecting ctx) until one is available
// or the queue is aborted.
func (q *Queue) GetJobToProcess(ctx context.Context) (*Job, error) {
	for {
		if atomic.LoadInt32(&q.aborted) != 0 {
			return nil, nil
		}
		q.localMu.Lock()
		if q.local.Len() > 0 {
			j := heap.Pop(&q.local).(*Job)
			q.localMu.Unlock()
			if err := q.localSlots.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			if j.distributable {
				j.setState(DistBuildingLocally)
			}
			return j, nil
		}
		q.localMu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.abortCh:
		case <-q.workerWake:
		}
	}
}

// GetDistributableJobToRace lets an idle worker start a local race against
// an in-flight remote job when the local queue is starved.
func (q *Queue) GetDistributableJobToRace() *Job {
	q.distMu.Lock()
	defer q.distMu.Unlock()
	for _, j := range q.distInProgress {
		if j.State() == DistBuildingRemotely {
			j.setState(DistRacing)
			return j
		}
	}
	return nil
}

// GetDistributableJobToProcess is called by the Distribution Client to
// hand a job to a remote worker, or (remote=false) to let a local worker
// consume a distributable job directly without racing.
func (q *Queue) GetDistributableJobToProcess(remote bool) *Job {
	q.distMu.Lock()
	defer q.distMu.Unlock()
	if len(q.distAvailable) == 0 {
		return nil
	}
	j := q.distAvailable[0]
	q.distAvailable = q.distAvailable[1:]
	if remote {
		j.setState(DistBuildingRemotely)
	} else {
		j.setState(DistBuildingLocally)
	}
	q.distInProgress[j.ID] = j
	return j
}

// OnReturnRemoteJob reconciles a returned remote result against local-race
// state: a job still BuildingRemotely commits the remote result; a job in
// a local race (Racing) ignores it and falls back to local completion; a
// job whose local race already won (RaceWonLocally) discards it. Any other
// state, or an unknown job id, ignores the result.
func (q *Queue) OnReturnRemoteJob(jobID uint64, result graph.BuildResult, data []byte) (commit bool) {
	q.distMu.Lock()
	j, ok := q.distInProgress[jobID]
	if !ok {
		q.distMu.Unlock()
		return false
	}
	switch j.State() {
	case DistBuildingRemotely:
		delete(q.distInProgress, jobID)
		q.distMu.Unlock()
		j.Result = result
		j.ResultData = data
		j.setState(DistCompletedRemotely)
		q.finish(j)
		return true
	case DistRacing:
		// Local race still running: ignore the remote result, fall back to
		// local-only completion.
		j.setState(DistBuildingLocally)
		q.distMu.Unlock()
		return false
	case DistRaceWonLocally:
		// Local already completed: discard remote result, free the job.
		delete(q.distInProgress, jobID)
		q.distMu.Unlock()
		return false
	default:
		q.distMu.Unlock()
		return false
	}
}

// ReturnUnfinishedDistributableJob re-queues a job whose connection was
// lost mid-flight, unless it was already completed via a local race.
func (q *Queue) ReturnUnfinishedDistributableJob(j *Job) {
	if j.State() == DistCompletedLocally || j.State() == DistRaceWonLocally {
		return
	}
	q.distMu.Lock()
	delete(q.distInProgress, j.ID)
	j.setState(DistAvailable)
	q.distAvailable = append(q.distAvailable, j)
	q.distMu.Unlock()
}

// FinishedProcessingJob is called by a worker thread (local or the result
// of a won race) once a Job's build attempt has produced a final result.
func (q *Queue) FinishedProcessingJob(j *Job, result graph.BuildResult, data []byte, wasRemote bool) {
	q.localSlots.Release(1)
	j.Result = result
	j.ResultData = data
	if j.distributable {
		if wasRemote {
			j.setState(DistCompletedRemotely)
		} else if j.State() == DistRacing {
			j.setState(DistRaceWonLocally)
		} else {
			j.setState(DistCompletedLocally)
		}
	}
	q.finish(j)
}

func (q *Queue) finish(j *Job) {
	q.completedMu.Lock()
	q.completed = append(q.completed, j)
	q.completedMu.Unlock()
	q.wake(q.mainWake)
}

// FinalizeCompletedJobs drains the completed queue; the caller (the Build
// Driver, main thread only) transitions node state, stamps, and optionally
// stores to cache for each returned Job.
func (q *Queue) FinalizeCompletedJobs() []*Job {
	q.completedMu.Lock()
	defer q.completedMu.Unlock()
	out := q.completed
	q.completed = nil
	return out
}

// mainThreadWaitTimeout bounds a single MainThreadWait.
const mainThreadWaitTimeout = 50 * time.Millisecond

// MainThreadWait blocks until a Job completes or the timeout elapses,
// implementing the bounded-wait suspension point.
func (q *Queue) MainThreadWait(ctx context.Context) {
	t := time.NewTimer(mainThreadWaitTimeout)
	defer t.Stop()
	select {
	case <-q.mainWake:
	case <-ctx.Done():
	case <-t.C:
	}
}

// Abort sets the queue's abort flag: from then on GetJobToProcess returns
// nil, so worker loops stop picking up new work. Abort does not interrupt
// or return Jobs that were already handed out.
func (q *Queue) Abort() {
	if atomic.CompareAndSwapInt32(&q.aborted, 0, 1) {
		close(q.abortCh)
	}
}

func (q *Queue) Aborted() bool { return atomic.LoadInt32(&q.aborted) != 0 }
