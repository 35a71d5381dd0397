package worker

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// ToolResult is the captured outcome of invoking an external compiler,
// linker, or other tool.
type ToolResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// RunTool spawns name(args...) in its own process group; when ctx is
// canceled the whole group is sent SIGKILL with a single signal, so
// processes the tool itself started are terminated too, and RunTool
// returns ctx.Err().
// It uses the same exec.CommandContext + SysProcAttr pattern used
// elsewhere for subprocess isolation, trading mount-namespace flags
// (irrelevant here) for Setpgid (relevant to group-kill).
func RunTool(ctx context.Context, dir, name string, args []string, env []string) (ToolResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Start()
	if err != nil {
		return ToolResult{}, xerrors.Errorf("worker: starting %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		killProcessGroup(cmd.Process.Pid)
		<-done
		return ToolResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, ctx.Err()
	case err := <-done:
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				return ToolResult{}, xerrors.Errorf("worker: running %s: %w", name, err)
			}
		}
		return ToolResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
	}
}

func killProcessGroup(pid int) {
	unix.Kill(-pid, unix.SIGKILL)
}

// WatchAbort derives a child context from parent that is canceled either
// when parent is done or when isAborted starts returning true (polled at
// the given interval — cheap, since it only runs while a build is active).
func WatchAbort(parent context.Context, isAborted func() bool, poll time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		t := time.NewTicker(poll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if isAborted() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}
