package dist

import (
	"bufio"
	"context"
	"log"
	"net"
	"time"

	"golang.org/x/xerrors"

	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/manifest"
)

// ServerRunJob is called once per dispatched job on the worker side: it
// must materialize the job's inputs under the manifest directory for
// toolID and return the final result plus any output payload to ship back
// (the worker side of the protocol).
type ServerRunJob func(ctx context.Context, toolID uint64, nodeName string, inputs []byte) (result graph.BuildResult, systemError bool, diagnostics string, output []byte, err error)

// Server is the worker-side half of the Distribution Protocol: a
// single-threaded-per-connection TCP listener implementing the
// Listening -> PerConnection{Idle, ManifestSync, Building, ReturningResult}
// state machine.
type Server struct {
	Addr    string
	Tags    []string
	Store   *manifest.Store
	RunJob  ServerRunJob
	Logger  *log.Logger
	Capacity int // not read by Serve: each connection runs its jobs one at a time and connections are not limited
}

// Listen binds s.Addr and returns the listener without serving it yet, so
// a caller can discover the actual bound address (s.Addr may end in :0)
// before connections start arriving.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, xerrors.Errorf("dist: listen on %s: %w", s.Addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is canceled. Each connection
// is handled by its own goroutine; a worker may be talking to several
// distribution clients (drivers) at once, one connection each.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return xerrors.Errorf("dist: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// ListenAndServe binds s.Addr and serves it until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		msg, err := ReadMessage(r)
		if err != nil {
			return // connection closed or network error: driver will retry elsewhere
		}
		switch msg.Type {
		case MsgConnection:
			conn.SetDeadline(time.Time{})
			status := ServerStatus{TagsAdded: s.Tags}
			if err := WriteMessage(conn, MsgServerStatus, MarshalServerStatus(status), nil); err != nil {
				return
			}

		case MsgRequestManifest:
			reqBody, err := func() (uint64, error) {
				rf, err := UnmarshalRequestFile(msg.Body)
				return rf.ToolID, err
			}()
			if err != nil {
				return
			}
			s.logf("dist: manifest requested for tool %x", reqBody)
			// Server holds no manifest catalog: tool manifests are staged
			// under the Store's root before the worker starts. The reply
			// always carries the requested tool id and an empty file list.
			if err := WriteMessage(conn, MsgManifest, MarshalManifest(ManifestMsg{ToolID: reqBody}), nil); err != nil {
				return
			}

		case MsgRequestFile:
			rf, err := UnmarshalRequestFile(msg.Body)
			if err != nil {
				return
			}
			dir := s.Store.Dir(rf.ToolID)
			_ = dir // no file content is sent: the reply is always an empty MsgFile
			if err := WriteMessage(conn, MsgFile, nil, nil); err != nil {
				return
			}

		case MsgJob:
			jh, err := UnmarshalJobHeader(msg.Body)
			if err != nil {
				return
			}
			inputs := msg.Payload
			result, sysErr, diag, output, runErr := s.RunJob(ctx, jh.ToolID, jh.NodeName, inputs)
			if runErr != nil {
				sysErr = true
				diag = runErr.Error()
			}
			jr := JobResult{JobID: jh.JobID, Result: uint8(result), SystemError: sysErr, Diagnostics: diag}
			if err := WriteMessage(conn, MsgJobResult, MarshalJobResult(jr), output); err != nil {
				return
			}

		default:
			return
		}
	}
}
