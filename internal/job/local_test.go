package job_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/crucible/internal/job"
)

func newTestLocal(t *testing.T) *job.Local {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return job.NewLocal(logger)
}

func TestSubmitAndWaitFinished(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()

	h, err := l.Submit(context.Background(), job.Spec{
		ID:      "echo-1",
		Command: "sh",
		Args:    []string{"-c", "echo hello"},
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status, err := l.Wait(context.Background(), h, 5*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != job.StatusFinished {
		t.Fatalf("status = %s, want finished", status)
	}
	code, ok := h.ExitCode()
	if !ok || code != 0 {
		t.Errorf("exit code = %d, %v; want 0, true", code, ok)
	}

	out, err := os.ReadFile(h.StdoutPath)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("stdout = %q, want hello", out)
	}
}

func TestSubmitCapturesStderr(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()

	h, err := l.Submit(context.Background(), job.Spec{
		ID:      "err-1",
		Command: "sh",
		Args:    []string{"-c", "echo oops >&2"},
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := l.Wait(context.Background(), h, 5*time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if h.StderrPath != filepath.Join(dir, job.StderrFile) {
		t.Errorf("StderrPath = %q, want %q", h.StderrPath, filepath.Join(dir, job.StderrFile))
	}
	data, err := os.ReadFile(h.StderrPath)
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	if strings.TrimSpace(string(data)) != "oops" {
		t.Errorf("stderr = %q, want oops", data)
	}
}

func TestFailedJobReportsExitCode(t *testing.T) {
	l := newTestLocal(t)

	h, err := l.Submit(context.Background(), job.Spec{
		ID:      "fail-1",
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status, err := l.Wait(context.Background(), h, 5*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	code, ok := h.ExitCode()
	if !ok || code != 3 {
		t.Errorf("exit code = %d, %v; want 3, true", code, ok)
	}
}

func TestSubmitEmptyCommand(t *testing.T) {
	l := newTestLocal(t)
	if _, err := l.Submit(context.Background(), job.Spec{ID: "empty", WorkDir: t.TempDir()}); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestWaitTimeout(t *testing.T) {
	l := newTestLocal(t)

	h, err := l.Submit(context.Background(), job.Spec{
		ID:      "slow-1",
		Command: "sleep",
		Args:    []string{"10"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer l.Cancel(h)

	_, err = l.Wait(context.Background(), h, 50*time.Millisecond)
	if !errors.Is(err, job.ErrWaitTimeout) {
		t.Errorf("Wait error = %v, want ErrWaitTimeout", err)
	}
}

func TestCancelStopsRunningJob(t *testing.T) {
	l := newTestLocal(t)

	h, err := l.Submit(context.Background(), job.Spec{
		ID:      "cancel-1",
		Command: "sleep",
		Args:    []string{"30"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := l.Cancel(h); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if status := l.Poll(h); status != job.StatusCancelled {
		t.Errorf("status = %s, want cancelled", status)
	}

	// A second cancel on a finished handle is a no-op.
	if err := l.Cancel(h); err != nil {
		t.Errorf("second Cancel: %v", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []job.Status{job.StatusFinished, job.StatusFailed, job.StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []job.Status{job.StatusPending, job.StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := job.NewRegistry()
	local := newTestLocal(t)
	reg.Register(job.LocalName, local)

	// Empty name resolves to the local controller.
	c, err := reg.Resolve("")
	if err != nil {
		t.Fatalf("Resolve(\"\"): %v", err)
	}
	if c != job.Controller(local) {
		t.Error("Resolve(\"\") did not return the local controller")
	}

	if _, err := reg.Resolve("slurm"); err == nil {
		t.Error("expected error for unregistered controller")
	}

	names := reg.Names()
	if len(names) != 1 || names[0] != job.LocalName {
		t.Errorf("Names = %v, want [local]", names)
	}
}
