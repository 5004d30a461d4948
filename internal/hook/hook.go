// Package hook defines the phase/hook contract for the test pipeline: phase
// identifiers, hook timings, and the per-definition registry of ordered
// callables executed around each phase.
package hook

import (
	"context"
	"log/slog"
)

// Phase identifies one stage of the test pipeline.
type Phase string

// Pipeline phase identifiers.
const (
	PhaseSetup       Phase = "setup"
	PhaseCompile     Phase = "compile"
	PhaseRun         Phase = "run"
	PhaseSanity      Phase = "sanity"
	PhasePerformance Phase = "performance"
	PhaseCleanup     Phase = "cleanup"
)

// Phases lists all pipeline phases in execution order.
var Phases = []Phase{
	PhaseSetup, PhaseCompile, PhaseRun,
	PhaseSanity, PhasePerformance, PhaseCleanup,
}

// Valid reports whether p is a known pipeline phase.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// Timing selects whether a hook runs before or after its phase body.
type Timing string

// Hook timings.
const (
	Before Timing = "before"
	After  Timing = "after"
)

// Env carries the per-instance execution context a hook may observe:
// the instance's isolated working directory, its parameter values, and a
// logger scoped to the instance.
type Env struct {
	CaseID  string
	WorkDir string
	Params  map[string]string
	Logger  *slog.Logger

	// Attempt is the 1-based run attempt, for cases with a retry policy.
	Attempt int
}

// Func is a hook callable. A non-nil error fails the owning instance at the
// phase the hook is bound to.
type Func func(ctx context.Context, env *Env) error

// Entry is one registered hook: a named callable bound to exactly one
// (phase, timing) pair. Registration order is part of the contract.
type Entry struct {
	Phase  Phase
	Timing Timing
	Name   string
	Fn     Func
}

// Set is a read-only hook table shared by every instance of a definition.
// It is built once at definition time via Builder and never mutated after.
type Set struct {
	entries []Entry
}

// At returns the hooks registered for the given phase and timing, in
// registration order.
func (s *Set) At(phase Phase, timing Timing) []Entry {
	if s == nil {
		return nil
	}
	var out []Entry
	for _, e := range s.entries {
		if e.Phase == phase && e.Timing == timing {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the total number of registered hooks.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Builder accumulates hook registrations at definition time. Build returns
// the immutable Set; the builder must not be reused afterwards.
type Builder struct {
	entries []Entry
}

// NewBuilder creates an empty hook builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Before registers fn to run before the given phase's body.
func (b *Builder) Before(phase Phase, name string, fn Func) *Builder {
	b.entries = append(b.entries, Entry{Phase: phase, Timing: Before, Name: name, Fn: fn})
	return b
}

// After registers fn to run after the given phase's body.
func (b *Builder) After(phase Phase, name string, fn Func) *Builder {
	b.entries = append(b.entries, Entry{Phase: phase, Timing: After, Name: name, Fn: fn})
	return b
}

// Build freezes the registrations into a read-only Set.
func (b *Builder) Build() *Set {
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return &Set{entries: entries}
}
