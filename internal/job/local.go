package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// LocalName is the name the local controller registers under.
const LocalName = "local"

// termGracePeriod is how long Cancel waits after SIGTERM before escalating
// to SIGKILL on the whole process group.
const termGracePeriod = 2 * time.Second

// ErrWaitTimeout is returned by Wait when the job does not reach a terminal
// status within the timeout.
var ErrWaitTimeout = errors.New("wait timed out")

// localProc tracks one running child process.
type localProc struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu        sync.Mutex
	cancelled bool
}

// Local runs jobs as child processes of the engine. Each job gets its own
// process group so that Cancel can kill the job and all of its children.
type Local struct {
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*localProc
}

// NewLocal creates a local job controller.
func NewLocal(logger *slog.Logger) *Local {
	return &Local{
		logger: logger,
		procs:  make(map[string]*localProc),
	}
}

// Submit starts the job as a child process with captured stdout/stderr in
// the job's working directory.
func (l *Local) Submit(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("submit job %s: empty command", spec.ID)
	}
	if err := os.MkdirAll(spec.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}

	stdoutPath := filepath.Join(spec.WorkDir, StdoutFile)
	stderrPath := filepath.Join(spec.WorkDir, StderrFile)

	outF, err := os.Create(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("create stdout file: %w", err)
	}
	errF, err := os.Create(stderrPath)
	if err != nil {
		outF.Close()
		return nil, fmt.Errorf("create stderr file: %w", err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Stdout = outF
	cmd.Stderr = errF
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		outF.Close()
		errF.Close()
		return nil, fmt.Errorf("start job %s: %w", spec.ID, err)
	}

	h := NewHandle(spec.ID, spec.WorkDir)
	h.StdoutPath = stdoutPath
	h.StderrPath = stderrPath
	h.SetStatus(StatusRunning)

	proc := &localProc{cmd: cmd, done: make(chan struct{})}
	l.mu.Lock()
	l.procs[spec.ID] = proc
	l.mu.Unlock()

	go l.reap(h, proc, outF, errF)

	l.logger.Debug("job started", "job_id", spec.ID, "pid", cmd.Process.Pid)
	return h, nil
}

// reap waits for the child, records its exit, and closes the output files.
func (l *Local) reap(h *Handle, proc *localProc, outF, errF *os.File) {
	err := proc.cmd.Wait()
	outF.Close()
	errF.Close()

	proc.mu.Lock()
	cancelled := proc.cancelled
	proc.mu.Unlock()

	switch {
	case cancelled:
		h.SetStatus(StatusCancelled)
	case err == nil:
		h.SetExitCode(0)
		h.SetStatus(StatusFinished)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			h.SetExitCode(exitErr.ExitCode())
		}
		h.SetStatus(StatusFailed)
	}

	close(proc.done)

	l.mu.Lock()
	delete(l.procs, h.ID)
	l.mu.Unlock()

	l.logger.Debug("job reaped", "job_id", h.ID, "status", h.Status())
}

// Poll reports the job's current status without blocking.
func (l *Local) Poll(h *Handle) Status {
	return h.Status()
}

// Wait blocks until the job finishes, the timeout elapses, or ctx is
// cancelled.
func (l *Local) Wait(ctx context.Context, h *Handle, timeout time.Duration) (Status, error) {
	l.mu.Lock()
	proc, ok := l.procs[h.ID]
	l.mu.Unlock()
	if !ok {
		// Already reaped.
		return h.Status(), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-proc.done:
		return h.Status(), nil
	case <-timer.C:
		return h.Status(), ErrWaitTimeout
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

// Cancel kills the job's process group and blocks until the child has been
// reaped, so no process remains attached to the working directory when it
// returns. Safe to call more than once or on a finished handle.
func (l *Local) Cancel(h *Handle) error {
	l.mu.Lock()
	proc, ok := l.procs[h.ID]
	l.mu.Unlock()
	if !ok {
		// Already terminal; nothing to stop.
		return nil
	}

	proc.mu.Lock()
	already := proc.cancelled
	proc.cancelled = true
	proc.mu.Unlock()

	pgid := proc.cmd.Process.Pid
	if !already {
		// Negative pid signals the whole group.
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			l.logger.Warn("terminate job group", "job_id", h.ID, "error", err)
		}
	}

	select {
	case <-proc.done:
		return nil
	case <-time.After(termGracePeriod):
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		l.logger.Warn("kill job group", "job_id", h.ID, "error", err)
	}
	<-proc.done
	return nil
}
