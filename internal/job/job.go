// Package job abstracts submission, polling, bounded waiting, and
// cancellation of an external workload. The pipeline only ever sees this
// four-operation contract; whether the job is a local child process or a
// batch-scheduler submission is a controller concern.
package job

import (
	"context"
	"sync"
	"time"
)

// Status of an outstanding job.
type Status string

// Job status constants.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// Captured output file names inside a job's working directory.
const (
	StdoutFile = "job.out"
	StderrFile = "job.err"
)

// Spec describes one execution request.
type Spec struct {
	ID      string
	Command string
	Args    []string
	WorkDir string
	Env     []string
}

// Handle represents one outstanding execution request. Handles are owned by
// the controller that issued them; the pipeline holds a reference only.
type Handle struct {
	ID          string
	SubmittedAt time.Time
	WorkDir     string
	StdoutPath  string
	StderrPath  string

	mu       sync.Mutex
	status   Status
	exitCode *int
}

// NewHandle creates a pending handle. Intended for controller
// implementations.
func NewHandle(id, workDir string) *Handle {
	return &Handle{
		ID:          id,
		SubmittedAt: time.Now().UTC(),
		WorkDir:     workDir,
		status:      StatusPending,
	}
}

// Status returns the handle's current status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// SetStatus records a status change. Intended for controller
// implementations.
func (h *Handle) SetStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

// ExitCode returns the job's exit code and whether one has been recorded.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitCode == nil {
		return 0, false
	}
	return *h.exitCode, true
}

// SetExitCode records the job's exit code. Intended for controller
// implementations.
func (h *Handle) SetExitCode(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exitCode = &code
}

// Controller is the contract every execution backend satisfies.
type Controller interface {
	// Submit starts the job described by spec and returns its handle.
	// A submission failure is fatal to the run phase.
	Submit(ctx context.Context, spec Spec) (*Handle, error)

	// Poll reports the job's current status without blocking.
	Poll(h *Handle) Status

	// Wait blocks until the job reaches a terminal status, the timeout
	// elapses, or ctx is cancelled, and returns the last observed status.
	Wait(ctx context.Context, h *Handle, timeout time.Duration) (Status, error)

	// Cancel stops the job. It is idempotent and safe to call on a handle
	// that already finished. When Cancel returns, the underlying OS-level
	// process or batch job is no longer consuming resources.
	Cancel(h *Handle) error
}
