package model

import (
	"context"
	"time"

	"github.com/seantiz/crucible/internal/expr"
	"github.com/seantiz/crucible/internal/hook"
)

// WildcardSystem in a validity filter or reference table matches any system.
const WildcardSystem = "*"

// RetryPolicy bounds repeated run→sanity cycles for a case whose pass
// condition depends on externally persisted state.
type RetryPolicy struct {
	// MaxAttempts is the total number of run attempts. Must be >= 1; the
	// loader rejects a declared policy with a non-positive bound.
	MaxAttempts int
}

// Reference is the expected value for one performance metric:
// a target, a tolerated fractional band around it, and a unit.
type Reference struct {
	Value float64 `json:"value"`
	// Lower and Upper are fractional tolerances relative to Value, e.g.
	// -0.1 and 0.1 allow a 10% deviation either way.
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Unit  string  `json:"unit"`
}

// Bounds returns the absolute tolerance interval for the reference.
func (r Reference) Bounds() (low, high float64) {
	return r.Value * (1 + r.Lower), r.Value * (1 + r.Upper)
}

// BuildSpec describes the compile-phase command for a case that builds
// sources before running.
type BuildSpec struct {
	Command string
	Args    []string
}

// PerfFunc is a custom performance check. A case that sets one bypasses
// reference-based tolerance judgment entirely; an error fails the case
// regardless of strictness.
type PerfFunc func(ctx context.Context, env *hook.Env) error

// Case is one concrete, fully parameterized test case. The loader produces
// cases from registered definitions; each case is owned by exactly one
// pipeline for its lifetime.
type Case struct {
	ID      string
	Name    string
	DefName string
	Descr   string

	// ValidSystems filters which systems the case may run on. Empty means
	// the case is valid nowhere and is reported as skipped.
	ValidSystems []string

	Executable string
	Args       []string

	// Scheduler names the job controller that runs the case. Empty resolves
	// to the local controller.
	Scheduler string

	// RunOnly cases skip the compile phase.
	RunOnly bool
	Build   *BuildSpec

	// Params holds this instance's parameter values from fan-out expansion.
	Params map[string]string

	Tags []string

	// KeepFiles names output files, relative to the working directory, that
	// sanity and performance expressions may reference.
	KeepFiles []string

	Sanity expr.Expr

	// Perf maps metric names to extraction expressions. Empty means the
	// performance phase is skipped.
	Perf map[string]expr.Expr

	// References maps system name (or WildcardSystem) to per-metric
	// references.
	References map[string]map[string]Reference

	// Strict controls whether a tolerance violation fails the case.
	// Non-strict cases record violations without failing.
	Strict bool

	PerfFn PerfFunc

	Retry *RetryPolicy

	Hooks *hook.Set

	// JobTimeout bounds the run-phase job. Zero means the runner default.
	JobTimeout time.Duration
}

// ValidFor reports whether the case may run on the given system.
func (c *Case) ValidFor(system string) bool {
	for _, s := range c.ValidSystems {
		if s == WildcardSystem || s == system {
			return true
		}
	}
	return false
}

// RefFor looks up the reference for a metric on a system, falling back to
// the wildcard entry when no system-specific one exists.
func (c *Case) RefFor(system, metric string) (Reference, bool) {
	if refs, ok := c.References[system]; ok {
		if r, ok := refs[metric]; ok {
			return r, true
		}
	}
	if refs, ok := c.References[WildcardSystem]; ok {
		if r, ok := refs[metric]; ok {
			return r, true
		}
	}
	return Reference{}, false
}

// HasPerf reports whether the case declares any performance judgment.
func (c *Case) HasPerf() bool {
	return len(c.Perf) > 0 || c.PerfFn != nil
}
