package dist

import (
	"bufio"
	"context"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/manifest"
	"github.com/nccbuild/fbuild/internal/queue"
)

// ClientState is the per-worker connection state machine:
// Idle -> Connecting -> Connected(NoJobsAssigned) <->
// Connected(JobsAssigned) -> Disconnected.
type ClientState uint8

const (
	StateIdle ClientState = iota
	StateConnecting
	StateConnectedNoJobs
	StateConnectedJobs
	StateDisconnected
)

func (s ClientState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnectedNoJobs:
		return "Connected(NoJobsAssigned)"
	case StateConnectedJobs:
		return "Connected(JobsAssigned)"
	case StateDisconnected:
		return "Disconnected"
	}
	return "Unknown"
}

// backoffInitial and backoffMax bound the exponential-backoff reconnect
// schedule: 5s doubling, worker excluded once the
// window is exceeded.
const (
	backoffInitial = 5 * time.Second
	backoffMax     = 80 * time.Second
	maxBackoffTries = 5 // 5s,10s,20s,40s,80s, then exclude for this build
)

// WorkerConn manages one outbound connection to a remote worker: connect,
// loop dispatching jobs from q, reconnect with backoff on failure, and
// give up (permanently, for this build) once maxBackoffTries is exceeded.
type WorkerConn struct {
	Addr       string
	Q          *queue.Queue
	ToolID     uint64
	Manifest   *manifest.Manifest
	ManifestDir string
	Logger     *log.Logger

	mu        sync.Mutex
	state     ClientState
	blacklisted bool
}

func NewWorkerConn(addr string, q *queue.Queue, logger *log.Logger) *WorkerConn {
	return &WorkerConn{Addr: addr, Q: q, Logger: logger, state: StateIdle}
}

func (c *WorkerConn) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WorkerConn) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *WorkerConn) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Blacklisted reports whether this worker has exceeded its reconnect
// budget for the current build; cleared only by constructing a new
// WorkerConn, i.e. on driver restart (per-build
// blacklisting").
func (c *WorkerConn) Blacklisted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blacklisted
}

// Run drives the connection until ctx is canceled or the worker is
// blacklisted: connect, dispatch jobs, reconnect with exponential backoff
// on any failure.
func (c *WorkerConn) Run(ctx context.Context) {
	delay := backoffInitial
	tries := 0
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		reset := func() {
			tries = 0
			delay = backoffInitial
		}
		if err := c.runOnce(ctx, reset); err != nil {
			c.logf("dist: %s: %v", c.Addr, err)
		}
		c.setState(StateDisconnected)

		tries++
		if tries > maxBackoffTries {
			c.mu.Lock()
			c.blacklisted = true
			c.mu.Unlock()
			c.logf("dist: %s: exceeded reconnect budget, excluding for this build", c.Addr)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > backoffMax {
			delay = backoffMax
		}
	}
}

func (c *WorkerConn) runOnce(ctx context.Context, onConnected func()) error {
	conn, err := net.DialTimeout("tcp", c.Addr, 5*time.Second)
	if err != nil {
		return xerrors.Errorf("dial: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	r := bufio.NewReader(conn)

	if err := WriteMessage(conn, MsgConnection, MarshalConnection(Connection{JobsAvailable: 0}), nil); err != nil {
		return xerrors.Errorf("sending hello: %w", err)
	}
	hello, err := ReadMessage(r)
	if err != nil {
		return xerrors.Errorf("reading server status: %w", err)
	}
	if hello.Type != MsgServerStatus {
		return xerrors.Errorf("unexpected reply to hello: %v", hello.Type)
	}
	if _, err := UnmarshalServerStatus(hello.Body); err != nil {
		return err
	}

	c.setState(StateConnectedNoJobs)

	// The handshake succeeded: this is a genuine connection, not just
	// another failed dial, so the caller's backoff schedule resets. A
	// worker that drops once after running healthily for hours starts
	// its next reconnect at backoffInitial, not wherever tries had
	// climbed to before this success.
	onConnected()

	return c.dispatchLoop(ctx, conn, r)
}

func (c *WorkerConn) dispatchLoop(ctx context.Context, conn net.Conn, r *bufio.Reader) error {
	for {
		j := c.Q.GetDistributableJobToProcess(true)
		if j == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
				continue
			}
		}
		c.setState(StateConnectedJobs)

		jh := JobHeader{JobID: j.ID, ToolID: j.ToolID, NodeName: j.Node.Name()}
		if err := WriteMessage(conn, MsgJob, MarshalJobHeader(jh), j.Inputs); err != nil {
			c.Q.ReturnUnfinishedDistributableJob(j)
			return xerrors.Errorf("sending job %d: %w", j.ID, err)
		}

		resp, err := ReadMessage(r)
		if err != nil {
			c.Q.ReturnUnfinishedDistributableJob(j)
			return xerrors.Errorf("reading result for job %d: %w", j.ID, err)
		}
		if resp.Type != MsgJobResult {
			c.Q.ReturnUnfinishedDistributableJob(j)
			return xerrors.Errorf("unexpected message type for job result: %v", resp.Type)
		}
		jr, err := UnmarshalJobResult(resp.Body)
		if err != nil {
			c.Q.ReturnUnfinishedDistributableJob(j)
			return err
		}

		if jr.SystemError {
			j.RecordSystemError(c.Addr)
			c.Q.ReturnUnfinishedDistributableJob(j)
			c.setState(StateConnectedNoJobs)
			continue
		}

		c.Q.OnReturnRemoteJob(jr.JobID, graph.BuildResult(jr.Result), resp.Payload)
		c.setState(StateConnectedNoJobs)
	}
}
