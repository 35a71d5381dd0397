// Package queue implements the Job and Job Queue: the work unit
// wrapping a node build, and the queues segregated by locality and
// distribution state.
package queue

import (
	"sync"

	"github.com/nccbuild/fbuild/internal/graph"
)

// DistState is a Job's position in the distribution state machine
// ("Job").
type DistState uint8

const (
	DistNone DistState = iota
	DistAvailable
	DistBuildingLocally
	DistBuildingRemotely
	DistRacing
	DistRaceWonLocally
	DistCompletedLocally
	DistCompletedRemotely
)

func (s DistState) String() string {
	switch s {
	case DistNone:
		return "None"
	case DistAvailable:
		return "Available"
	case DistBuildingLocally:
		return "BuildingLocally"
	case DistBuildingRemotely:
		return "BuildingRemotely"
	case DistRacing:
		return "Racing"
	case DistRaceWonLocally:
		return "RaceWonLocally"
	case DistCompletedLocally:
		return "CompletedLocally"
	case DistCompletedRemotely:
		return "CompletedRemotely"
	}
	return "Unknown"
}

// Job wraps a single Node build: its serialized compile inputs, its
// distribution state, a system-error retry counter, and accumulated
// diagnostic output.
type Job struct {
	mu sync.Mutex

	ID     uint64
	Node   *graph.Node
	Inputs []byte // preprocessed source, or a file list for non-compile jobs
	ToolID uint64 // toolchain identity Inputs was produced against, for a remote worker's manifest lookup

	distributable bool
	state         DistState

	// SystemErrorCount counts remote "system error" failures (worker
	// blacklisting, connection loss, protocol error); up to 3 retries on
	// different workers.
	SystemErrorCount int
	TriedWorkers     map[string]bool

	Messages []string

	// Result fields, set once by whichever side (local or remote) commits
	// first; read only after the Job has been dequeued from Completed.
	Result     graph.BuildResult
	ResultData []byte
}

func newJob(id uint64, n *graph.Node, inputs []byte, toolID uint64, distributable bool) *Job {
	return &Job{
		ID:            id,
		Node:          n,
		Inputs:        inputs,
		ToolID:        toolID,
		distributable: distributable,
		state:         DistNone,
		TriedWorkers:  make(map[string]bool),
	}
}

func (j *Job) State() DistState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s DistState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
}

func (j *Job) AddMessage(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Messages = append(j.Messages, msg)
}

// MaxSystemErrorRetries is the retry bound.
const MaxSystemErrorRetries = 3

// CanRetryOn reports whether worker may be tried again after a system
// error: not exceeding the retry budget, and not the same worker that
// just failed it.
func (j *Job) CanRetryOn(worker string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.SystemErrorCount >= MaxSystemErrorRetries {
		return false
	}
	return !j.TriedWorkers[worker]
}

func (j *Job) RecordSystemError(worker string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.SystemErrorCount++
	j.TriedWorkers[worker] = true
}
