// Package process runs external commands and child processes for the queue
// drivers and for externally defined workflow jobs. Remote backends shell
// out through Run; the local backend keeps a live Handle per spawned child.
package process

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Result captures the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run executes a command to completion under ctx, capturing stdout, stderr
// and the exit code. A non-zero exit is reported through Result.ExitCode,
// not as an error; the returned error is non-nil only if the command could
// not be run at all or ctx expired.
func Run(ctx context.Context, dir string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		if ctx.Err() != nil {
			return result, errors.Wrapf(ctx.Err(), "command %s timed out", name)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, errors.Wrapf(err, "could not run command %s", name)
	}
	return result, nil
}

// Handle tracks a spawned child process until it exits.
type Handle struct {
	pid int

	mu       sync.Mutex
	done     chan struct{}
	exitCode int
	waitErr  error
	cmd      *exec.Cmd
}

// Spawn starts name with args in dir as a child process and returns
// immediately. The child's exit status is collected in the background and
// exposed through Poll.
func Spawn(dir string, name string, args ...string) (*Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "could not spawn %s", name)
	}

	h := &Handle{
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
		cmd:  cmd,
	}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				h.exitCode = exitErr.ExitCode()
			} else {
				h.waitErr = err
				h.exitCode = -1
			}
		}
		close(h.done)
	}()
	return h, nil
}

func (h *Handle) Pid() int {
	return h.pid
}

// Poll reports whether the child is still running and, once it has exited,
// its exit code.
func (h *Handle) Poll() (running bool, exitCode int) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return false, h.exitCode
	default:
		return true, 0
	}
}

// Wait blocks until the child exits or ctx expires.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exitCode, h.waitErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Kill terminates the child. Killing a child that has already exited is not
// an error.
func (h *Handle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil {
		// The process may have exited between the check and the kill.
		select {
		case <-h.done:
			return nil
		default:
		}
		return errors.Wrapf(err, "could not kill pid %d", h.pid)
	}
	return nil
}
