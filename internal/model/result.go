package model

import (
	"time"

	"github.com/seantiz/crucible/internal/hook"
)

// Pipeline state constants.
const (
	StateInit        = "init"
	StateSetup       = "setup"
	StateCompile     = "compile"
	StateRun         = "run"
	StateSanity      = "sanity"
	StatePerformance = "performance"
	StateCleanup     = "cleanup"
	StateDone        = "done"
	StateFailed      = "failed"
	StateAborted     = "aborted"
)

// validTransitions maps each pipeline state to the set of states it may
// transition to. Sanity→Run covers retry attempts; Failed and Aborted may
// still enter Cleanup because cleanup hooks run on a best-effort basis.
var validTransitions = map[string]map[string]bool{
	StateInit: {
		StateSetup:  true,
		StateFailed: true,
	},
	StateSetup: {
		StateCompile: true,
		StateRun:     true,
		StateFailed:  true,
	},
	StateCompile: {
		StateRun:    true,
		StateFailed: true,
	},
	StateRun: {
		StateSanity:  true,
		StateFailed:  true,
		StateAborted: true,
	},
	StateSanity: {
		StatePerformance: true,
		StateCleanup:     true,
		StateRun:         true,
		StateFailed:      true,
	},
	StatePerformance: {
		StateCleanup: true,
		StateFailed:  true,
	},
	StateCleanup: {
		StateDone: true,
	},
	StateFailed: {
		StateCleanup: true,
	},
	StateAborted: {
		StateCleanup: true,
	},
}

// ValidTransition reports whether moving from one pipeline state to another
// is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal result states for a case.
const (
	ResultPassed  = "passed"
	ResultFailed  = "failed"
	ResultAborted = "aborted"
	ResultSkipped = "skipped"
)

// FailureKind classifies why a case failed.
type FailureKind string

// Failure kinds.
const (
	KindSetup       FailureKind = "setup"
	KindCompile     FailureKind = "compile"
	KindRun         FailureKind = "run"
	KindSanity      FailureKind = "sanity"
	KindPerformance FailureKind = "performance"
	KindCleanup     FailureKind = "cleanup"
	KindValidation  FailureKind = "validation"
	KindInterrupt   FailureKind = "interrupt"
)

// Result is the recorded outcome of one case.
type Result struct {
	CaseID  string `json:"case_id"`
	Name    string `json:"name"`
	DefName string `json:"def_name"`
	State   string `json:"state"`

	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	FailurePhase hook.Phase  `json:"failure_phase,omitempty"`
	Error        string      `json:"error,omitempty"`

	// CleanupError records a failure inside the cleanup phase itself. It
	// never masks the original failure cause.
	CleanupError string `json:"cleanup_error,omitempty"`

	Attempts   int        `json:"attempts"`
	WorkDir    string     `json:"work_dir,omitempty"`
	DurationMS int        `json:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PerfMetric is one persisted performance measurement: the evaluated value
// judged against its reference band. Recorded even for non-strict cases.
type PerfMetric struct {
	ID        int64     `json:"id"`
	CaseID    string    `json:"case_id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Reference float64   `json:"reference"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
	Unit      string    `json:"unit"`
	Within    bool      `json:"within"`
	CreatedAt time.Time `json:"created_at"`
}
