package loader_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seantiz/crucible/internal/hook"
)

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write suite file: %v", err)
	}
	return path
}

func TestLoadSuite(t *testing.T) {
	path := writeSuite(t, `
suite: smoke
cases:
  - name: stream
    descr: memory bandwidth
    systems: ["*"]
    executable: ./stream
    args: ["-n", "{size}"]
    params:
      - name: size
        values: ["1000", "2000"]
    sanity:
      found:
        pattern: "Solution Validates"
    perf:
      triad:
        pattern: "Triad: +(\\S+)"
        group: 1
        conv: float
    references:
      "*":
        triad:
          value: 25000
          lower: -0.05
          upper: 0.05
          unit: "MB/s"
    timeout: 90s
`)

	l := newTestLoader(t, "generic")
	if err := l.LoadSuite(path); err != nil {
		t.Fatalf("LoadSuite: %v", err)
	}

	q := l.Load()
	if len(q.Rejected) != 0 {
		t.Fatalf("rejected = %v, want none", q.Rejected)
	}
	if len(q.Cases) != 2 {
		t.Fatalf("cases = %d, want 2", len(q.Cases))
	}

	c := q.Cases[0]
	if c.Name != "stream_1000" {
		t.Errorf("name = %q, want stream_1000", c.Name)
	}
	if len(c.Args) != 2 || c.Args[1] != "1000" {
		t.Errorf("args = %v, want [-n 1000]", c.Args)
	}
	if !c.RunOnly {
		t.Error("case without build command should default to run-only")
	}
	if !c.Strict {
		t.Error("strictness should default to true")
	}
	if c.Sanity == nil {
		t.Error("sanity expression not built")
	}
	if len(c.Perf) != 1 {
		t.Errorf("perf metrics = %d, want 1", len(c.Perf))
	}
	ref, ok := c.RefFor("generic", "triad")
	if !ok || ref.Value != 25000 || ref.Unit != "MB/s" {
		t.Errorf("RefFor = %+v, %v; want value 25000 MB/s", ref, ok)
	}
	if c.JobTimeout != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", c.JobTimeout)
	}
}

func TestLoadSuiteBuildAndRetry(t *testing.T) {
	path := writeSuite(t, `
cases:
  - name: compiled
    systems: ["*"]
    executable: ./a.out
    build:
      command: make
      args: ["all"]
    retry:
      max_attempts: 3
    strict: false
`)

	l := newTestLoader(t, "generic")
	if err := l.LoadSuite(path); err != nil {
		t.Fatalf("LoadSuite: %v", err)
	}

	q := l.Load()
	if len(q.Cases) != 1 {
		t.Fatalf("cases = %d, want 1 (rejected: %v)", len(q.Cases), q.Rejected)
	}
	c := q.Cases[0]
	if c.RunOnly {
		t.Error("case with build command should not be run-only")
	}
	if c.Build == nil || c.Build.Command != "make" {
		t.Errorf("build = %+v, want make", c.Build)
	}
	if c.Retry == nil || c.Retry.MaxAttempts != 3 {
		t.Errorf("retry = %+v, want 3 attempts", c.Retry)
	}
	if c.Strict {
		t.Error("strict should be false when declared false")
	}
}

func TestLoadSuiteShellHooks(t *testing.T) {
	path := writeSuite(t, `
cases:
  - name: hooked
    systems: ["*"]
    executable: "true"
    prerun:
      - "echo before > marker"
    postrun:
      - "rm marker"
      - "echo done"
`)

	l := newTestLoader(t, "generic")
	if err := l.LoadSuite(path); err != nil {
		t.Fatalf("LoadSuite: %v", err)
	}

	q := l.Load()
	if len(q.Cases) != 1 {
		t.Fatalf("cases = %d, want 1", len(q.Cases))
	}
	hooks := q.Cases[0].Hooks
	if got := len(hooks.At(hook.PhaseRun, hook.Before)); got != 1 {
		t.Errorf("prerun hooks = %d, want 1", got)
	}
	if got := len(hooks.At(hook.PhaseRun, hook.After)); got != 2 {
		t.Errorf("postrun hooks = %d, want 2", got)
	}
}

func TestLoadSuiteRejectsAmbiguousExpression(t *testing.T) {
	path := writeSuite(t, `
cases:
  - name: ambiguous
    systems: ["*"]
    executable: "true"
    sanity:
      found:
        pattern: "ok"
      all:
        - found:
            pattern: "ok"
`)

	l := newTestLoader(t, "generic")
	if err := l.LoadSuite(path); err != nil {
		t.Fatalf("LoadSuite: %v", err)
	}

	q := l.Load()
	if len(q.Cases) != 0 || len(q.Rejected) != 1 {
		t.Fatalf("cases = %d, rejected = %d; want 0, 1", len(q.Cases), len(q.Rejected))
	}
}

func TestLoadSuiteBadTimeout(t *testing.T) {
	path := writeSuite(t, `
cases:
  - name: badtimeout
    systems: ["*"]
    executable: "true"
    timeout: soon
`)

	l := newTestLoader(t, "generic")
	if err := l.LoadSuite(path); err != nil {
		t.Fatalf("LoadSuite: %v", err)
	}

	q := l.Load()
	if len(q.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(q.Rejected))
	}
}

func TestLoadSuiteMissingFile(t *testing.T) {
	l := newTestLoader(t, "generic")
	if err := l.LoadSuite(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing suite file")
	}
}
