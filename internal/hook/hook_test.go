package hook_test

import (
	"context"
	"testing"

	"github.com/seantiz/crucible/internal/hook"
)

func TestBuilderPreservesRegistrationOrder(t *testing.T) {
	var order []string
	record := func(name string) hook.Func {
		return func(context.Context, *hook.Env) error {
			order = append(order, name)
			return nil
		}
	}

	set := hook.NewBuilder().
		Before(hook.PhaseRun, "first", record("first")).
		Before(hook.PhaseRun, "second", record("second")).
		After(hook.PhaseRun, "third", record("third")).
		Build()

	if set.Len() != 3 {
		t.Fatalf("Len = %d, want 3", set.Len())
	}

	for _, e := range set.At(hook.PhaseRun, hook.Before) {
		if err := e.Fn(context.Background(), &hook.Env{}); err != nil {
			t.Fatalf("hook %s: %v", e.Name, err)
		}
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("before-run order = %v, want [first second]", order)
	}

	after := set.At(hook.PhaseRun, hook.After)
	if len(after) != 1 || after[0].Name != "third" {
		t.Errorf("after-run hooks = %v, want [third]", after)
	}
}

func TestAtFiltersByPhaseAndTiming(t *testing.T) {
	nop := func(context.Context, *hook.Env) error { return nil }

	set := hook.NewBuilder().
		Before(hook.PhaseSetup, "a", nop).
		After(hook.PhaseCleanup, "b", nop).
		Build()

	if got := set.At(hook.PhaseRun, hook.Before); got != nil {
		t.Errorf("At(run, before) = %v, want none", got)
	}
	if got := set.At(hook.PhaseSetup, hook.After); got != nil {
		t.Errorf("At(setup, after) = %v, want none", got)
	}
	if got := set.At(hook.PhaseCleanup, hook.After); len(got) != 1 {
		t.Errorf("At(cleanup, after) has %d entries, want 1", len(got))
	}
}

func TestNilSetIsEmpty(t *testing.T) {
	var set *hook.Set
	if set.Len() != 0 {
		t.Errorf("nil set Len = %d, want 0", set.Len())
	}
	if got := set.At(hook.PhaseRun, hook.Before); got != nil {
		t.Errorf("nil set At = %v, want none", got)
	}
}

func TestPhaseValid(t *testing.T) {
	for _, p := range hook.Phases {
		if !p.Valid() {
			t.Errorf("phase %q reported invalid", p)
		}
	}
	if hook.Phase("teardown").Valid() {
		t.Error("unknown phase reported valid")
	}
}
