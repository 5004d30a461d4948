package loader_test

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/seantiz/crucible/internal/expr"
	"github.com/seantiz/crucible/internal/loader"
	"github.com/seantiz/crucible/internal/model"
)

func newTestLoader(t *testing.T, system string) *loader.Loader {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return loader.New(system, logger)
}

// simpleCase is a minimal admissible run-only case.
func simpleCase() *model.Case {
	return &model.Case{
		ValidSystems: []string{model.WildcardSystem},
		Executable:   "true",
		RunOnly:      true,
	}
}

func TestLoadSingleDefinition(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{
		Name:  "hello",
		Build: func(map[string]string) (*model.Case, error) { return simpleCase(), nil },
	})

	q := l.Load()
	if len(q.Cases) != 1 {
		t.Fatalf("cases = %d, want 1", len(q.Cases))
	}
	c := q.Cases[0]
	if c.Name != "hello" {
		t.Errorf("name = %q, want hello", c.Name)
	}
	if c.DefName != "hello" {
		t.Errorf("def name = %q, want hello", c.DefName)
	}
	if c.ID == "" {
		t.Error("case has no ID")
	}
}

func TestFanOutOrderIsDeterministic(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{
		Name: "matrix",
		Params: []loader.Param{
			{Name: "size", Values: []string{"small", "large"}},
			{Name: "mode", Values: []string{"fast", "safe"}},
		},
		Build: func(params map[string]string) (*model.Case, error) {
			return simpleCase(), nil
		},
	})

	q := l.Load()
	want := []string{
		"matrix_small_fast",
		"matrix_small_safe",
		"matrix_large_fast",
		"matrix_large_safe",
	}
	if len(q.Cases) != len(want) {
		t.Fatalf("cases = %d, want %d", len(q.Cases), len(want))
	}
	for i, c := range q.Cases {
		if c.Name != want[i] {
			t.Errorf("case %d name = %q, want %q", i, c.Name, want[i])
		}
		if c.Params["size"] == "" || c.Params["mode"] == "" {
			t.Errorf("case %d missing parameter values: %v", i, c.Params)
		}
	}
}

func TestNameSeqDisambiguates(t *testing.T) {
	seq := loader.NewNameSeq()
	if got := seq.Next("check"); got != "check" {
		t.Errorf("first = %q, want check", got)
	}
	if got := seq.Next("check"); got != "check_1" {
		t.Errorf("second = %q, want check_1", got)
	}
	if got := seq.Next("check"); got != "check_2" {
		t.Errorf("third = %q, want check_2", got)
	}
	if got := seq.Next("other"); got != "other" {
		t.Errorf("unrelated base = %q, want other", got)
	}
}

func TestDuplicateInstanceNames(t *testing.T) {
	l := newTestLoader(t, "generic")
	for i := 0; i < 2; i++ {
		l.Register(loader.Definition{
			Name:  "dup",
			Build: func(map[string]string) (*model.Case, error) { return simpleCase(), nil },
		})
	}

	q := l.Load()
	if len(q.Cases) != 2 {
		t.Fatalf("cases = %d, want 2", len(q.Cases))
	}
	if q.Cases[0].Name != "dup" || q.Cases[1].Name != "dup_1" {
		t.Errorf("names = %q, %q; want dup, dup_1", q.Cases[0].Name, q.Cases[1].Name)
	}
}

func TestRejectEmptyDefinition(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{Name: "nobuild"})
	l.Register(loader.Definition{
		Build: func(map[string]string) (*model.Case, error) { return simpleCase(), nil },
	})

	q := l.Load()
	if len(q.Cases) != 0 {
		t.Fatalf("cases = %d, want 0", len(q.Cases))
	}
	if len(q.Rejected) != 2 {
		t.Fatalf("rejected = %d, want 2", len(q.Rejected))
	}
	for _, r := range q.Rejected {
		if r.Kind != model.KindValidation {
			t.Errorf("rejection kind = %q, want validation", r.Kind)
		}
	}
}

func TestRejectBuildFailure(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{
		Name:  "broken",
		Build: func(map[string]string) (*model.Case, error) { return nil, fmt.Errorf("boom") },
	})

	q := l.Load()
	if len(q.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(q.Rejected))
	}
	if !strings.Contains(q.Rejected[0].Reason, "boom") {
		t.Errorf("reason = %q, want build error mentioned", q.Rejected[0].Reason)
	}
}

func TestRejectNoExecutable(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{
		Name: "noexe",
		Build: func(map[string]string) (*model.Case, error) {
			c := simpleCase()
			c.Executable = ""
			return c, nil
		},
	})

	q := l.Load()
	if len(q.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(q.Rejected))
	}
	if !strings.Contains(q.Rejected[0].Reason, "executable") {
		t.Errorf("reason = %q, want executable mentioned", q.Rejected[0].Reason)
	}
}

func TestRejectRawExpression(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{
		Name: "captured",
		Build: func(map[string]string) (*model.Case, error) {
			c := simpleCase()
			c.Sanity = expr.Raw{Fn: func(*expr.Env) (any, error) { return true, nil }}
			return c, nil
		},
	})

	q := l.Load()
	if len(q.Cases) != 0 {
		t.Fatal("case with raw expression was admitted")
	}
	if len(q.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(q.Rejected))
	}
	if !strings.Contains(q.Rejected[0].Reason, "re-evaluable") {
		t.Errorf("reason = %q, want re-evaluable mentioned", q.Rejected[0].Reason)
	}
}

func TestRejectNonPositiveRetry(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{
		Name: "badretry",
		Build: func(map[string]string) (*model.Case, error) {
			c := simpleCase()
			c.Retry = &model.RetryPolicy{MaxAttempts: 0}
			return c, nil
		},
	})

	q := l.Load()
	if len(q.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(q.Rejected))
	}
}

func TestSystemFilterSkips(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{
		Name: "elsewhere",
		Build: func(map[string]string) (*model.Case, error) {
			c := simpleCase()
			c.ValidSystems = []string{"daint"}
			return c, nil
		},
	})

	q := l.Load()
	if len(q.Cases) != 0 {
		t.Fatal("case valid only for another system was admitted")
	}
	if len(q.Rejected) != 0 {
		t.Fatalf("rejected = %d, want 0: skipping is not a rejection", len(q.Rejected))
	}
	if len(q.Skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(q.Skipped))
	}
	s := q.Skipped[0]
	if s.State != model.ResultSkipped {
		t.Errorf("skipped state = %q, want skipped", s.State)
	}
	if !strings.Contains(s.Error, "generic") {
		t.Errorf("skipped error = %q, want system named", s.Error)
	}
}

func TestLoadIsRepeatable(t *testing.T) {
	l := newTestLoader(t, "generic")
	l.Register(loader.Definition{
		Name:   "stable",
		Params: []loader.Param{{Name: "n", Values: []string{"1", "2"}}},
		Build:  func(map[string]string) (*model.Case, error) { return simpleCase(), nil },
	})

	first := l.Load()
	second := l.Load()
	if len(first.Cases) != 2 || len(second.Cases) != 2 {
		t.Fatalf("cases = %d, %d; want 2, 2", len(first.Cases), len(second.Cases))
	}
	// The naming sequence spans loads, so the second load gets suffixes.
	if second.Cases[0].Name != "stable_1_1" {
		t.Errorf("second load first name = %q, want stable_1_1", second.Cases[0].Name)
	}
}
