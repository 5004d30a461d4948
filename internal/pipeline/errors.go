package pipeline

import (
	"errors"
	"fmt"

	"github.com/seantiz/crucible/internal/hook"
	"github.com/seantiz/crucible/internal/model"
)

// ErrTerminate is a request, raised from within a phase body or hook, to
// stop the entire run. Unlike ordinary phase failures it propagates past
// the instance boundary to the pool coordinator, after the instance's own
// cleanup has run.
var ErrTerminate = errors.New("terminate run")

// Error is an instance-level failure: it carries the phase where the
// failure occurred and its kind, and never crosses the instance boundary.
type Error struct {
	Kind  model.FailureKind
	Phase hook.Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure in phase %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// failure wraps err as an instance-level Error unless it already is one.
func failure(kind model.FailureKind, phase hook.Phase, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: kind, Phase: phase, Err: err}
}

// kindFor maps a phase to its default failure kind.
func kindFor(phase hook.Phase) model.FailureKind {
	switch phase {
	case hook.PhaseSetup:
		return model.KindSetup
	case hook.PhaseCompile:
		return model.KindCompile
	case hook.PhaseRun:
		return model.KindRun
	case hook.PhaseSanity:
		return model.KindSanity
	case hook.PhasePerformance:
		return model.KindPerformance
	case hook.PhaseCleanup:
		return model.KindCleanup
	default:
		return model.KindRun
	}
}
