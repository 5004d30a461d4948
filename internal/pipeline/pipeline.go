// Package pipeline drives a single test case through its ordered phases:
// setup → compile → run → sanity → performance → cleanup. Every failure
// mode reduces to a terminal result; only an external interrupt or an
// explicit terminate request propagates past the instance boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/seantiz/crucible/internal/expr"
	"github.com/seantiz/crucible/internal/hook"
	"github.com/seantiz/crucible/internal/job"
	"github.com/seantiz/crucible/internal/model"
)

// Defaults for pipeline timing.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultJobTimeout   = 30 * time.Second
)

// Config holds the pipeline settings shared by all instances of a run.
type Config struct {
	// System is the name of the system the run executes on, used for
	// reference lookup.
	System string

	// PollInterval bounds each blocking increment of the run-phase poll
	// loop. Cancellation is observed between increments.
	PollInterval time.Duration

	// JobTimeout bounds a run-phase job when the case declares no timeout
	// of its own.
	JobTimeout time.Duration
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

// Recorder receives pipeline observations: state transitions and evaluated
// performance metrics. Implementations must be safe for concurrent use
// across pipelines.
type Recorder interface {
	StateChanged(caseID, state string)
	PerfRecorded(m model.PerfMetric)
}

// nopRecorder discards all observations.
type nopRecorder struct{}

func (nopRecorder) StateChanged(string, string)   {}
func (nopRecorder) PerfRecorded(model.PerfMetric) {}

// Pipeline executes one case. It owns the case for its lifetime; phases
// run strictly sequentially.
type Pipeline struct {
	c        *model.Case
	ctrl     job.Controller
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	workDir string
	state   string
	env     *hook.Env
	handle  *job.Handle
	attempt int
}

// New creates a pipeline for one case. workDir is the case's isolated
// working directory; it must not be shared with any other instance.
func New(c *model.Case, ctrl job.Controller, cfg Config, workDir string, logger *slog.Logger, rec Recorder) *Pipeline {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Pipeline{
		c:        c,
		ctrl:     ctrl,
		cfg:      cfg,
		logger:   logger.With("case", c.Name, "case_id", c.ID),
		recorder: rec,
		workDir:  workDir,
		state:    model.StateInit,
	}
}

// Run drives the case to a terminal state and returns its result. The
// returned error is nil for ordinary pass/fail outcomes; it is non-nil only
// when the whole run must stop — an external interrupt observed by this
// instance, or a terminate request raised from a phase — and in both
// situations the instance's cleanup has already run.
func (p *Pipeline) Run(ctx context.Context) (*model.Result, error) {
	started := time.Now().UTC()
	res := &model.Result{
		CaseID:    p.c.ID,
		Name:      p.c.Name,
		DefName:   p.c.DefName,
		WorkDir:   p.workDir,
		CreatedAt: started,
		StartedAt: &started,
	}

	fatal := p.drive(ctx, res)

	// Cleanup hooks run on a best-effort basis whatever happened above,
	// including after an interrupt, so they get a context detached from
	// cancellation.
	p.cleanup(context.WithoutCancel(ctx), res)

	finished := time.Now().UTC()
	res.FinishedAt = &finished
	res.Attempts = p.attempt
	res.DurationMS = int(finished.Sub(started).Milliseconds())

	p.logger.Info("case finished",
		"state", res.State,
		"attempts", res.Attempts,
		"duration_ms", res.DurationMS,
	)
	return res, fatal
}

// drive advances through setup, compile, the run→sanity retry cycle, and
// performance. It fills in res on failure and returns a non-nil error only
// for run-stopping conditions.
func (p *Pipeline) drive(ctx context.Context, res *model.Result) error {
	p.env = &hook.Env{
		CaseID:  p.c.ID,
		WorkDir: p.workDir,
		Params:  p.c.Params,
		Logger:  p.logger,
	}

	if err := p.transition(model.StateSetup); err != nil {
		return p.record(res, failure(model.KindSetup, hook.PhaseSetup, err))
	}
	if err := p.phase(ctx, hook.PhaseSetup, p.setupBody); err != nil {
		return p.record(res, err)
	}

	if !p.c.RunOnly {
		if err := p.transition(model.StateCompile); err != nil {
			return p.record(res, failure(model.KindCompile, hook.PhaseCompile, err))
		}
		if err := p.phase(ctx, hook.PhaseCompile, p.compileBody); err != nil {
			return p.record(res, err)
		}
	}

	r := newRetrier(p.c.Retry)
	for {
		p.attempt = r.attempt()
		p.env.Attempt = p.attempt

		if err := p.transition(model.StateRun); err != nil {
			return p.record(res, failure(model.KindRun, hook.PhaseRun, err))
		}
		if err := p.phase(ctx, hook.PhaseRun, p.runBody); err != nil {
			return p.record(res, err)
		}

		if err := p.transition(model.StateSanity); err != nil {
			return p.record(res, failure(model.KindSanity, hook.PhaseSanity, err))
		}
		err := p.phase(ctx, hook.PhaseSanity, p.sanityBody)
		if err == nil {
			break
		}
		if !r.retryable(err) {
			return p.record(res, err)
		}
		p.logger.Info("sanity failed, retrying",
			"attempt", p.attempt, "max_attempts", r.max, "error", err)
	}

	if p.c.HasPerf() {
		if err := p.transition(model.StatePerformance); err != nil {
			return p.record(res, failure(model.KindPerformance, hook.PhasePerformance, err))
		}
		if err := p.phase(ctx, hook.PhasePerformance, p.performanceBody); err != nil {
			return p.record(res, err)
		}
	}

	res.State = model.ResultPassed
	return nil
}

// phase runs before-hooks, the phase body, then after-hooks, in strict
// registration order. The first error stops the phase; later hooks and
// phases are skipped.
func (p *Pipeline) phase(ctx context.Context, ph hook.Phase, body func(context.Context) error) error {
	for _, e := range p.c.Hooks.At(ph, hook.Before) {
		if err := e.Fn(ctx, p.env); err != nil {
			return failure(kindFor(ph), ph, fmt.Errorf("hook %s: %w", e.Name, err))
		}
	}
	if body != nil {
		if err := body(ctx); err != nil {
			return failure(kindFor(ph), ph, err)
		}
	}
	for _, e := range p.c.Hooks.At(ph, hook.After) {
		if err := e.Fn(ctx, p.env); err != nil {
			return failure(kindFor(ph), ph, fmt.Errorf("hook %s: %w", e.Name, err))
		}
	}
	return nil
}

// transition moves the pipeline to the next state, enforcing the state
// machine's legal transitions.
func (p *Pipeline) transition(to string) error {
	if !model.ValidTransition(p.state, to) {
		return fmt.Errorf("illegal state transition %s -> %s", p.state, to)
	}
	p.state = to
	p.recorder.StateChanged(p.c.ID, to)
	p.logger.Debug("state changed", "state", to)
	return nil
}

// record reduces a phase error to the instance's terminal state. The
// returned error is nil unless the failure must stop the whole run.
func (p *Pipeline) record(res *model.Result, err error) error {
	var pe *Error
	if !errors.As(err, &pe) {
		pe = &Error{Kind: model.KindRun, Phase: hook.PhaseRun, Err: err}
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.State = model.ResultAborted
		res.FailureKind = model.KindInterrupt
		res.FailurePhase = pe.Phase
		res.Error = "interrupted"
		p.toTerminal(model.StateAborted)
		return err
	case errors.Is(err, ErrTerminate):
		res.State = model.ResultFailed
		res.FailureKind = model.KindInterrupt
		res.FailurePhase = pe.Phase
		res.Error = pe.Err.Error()
		p.toTerminal(model.StateFailed)
		return err
	default:
		res.State = model.ResultFailed
		res.FailureKind = pe.Kind
		res.FailurePhase = pe.Phase
		res.Error = pe.Err.Error()
		p.toTerminal(model.StateFailed)
		return nil
	}
}

// toTerminal forces the pipeline into a terminal state without legality
// checks; failures may strike in any phase.
func (p *Pipeline) toTerminal(state string) {
	p.state = state
	p.recorder.StateChanged(p.c.ID, state)
}

// cleanup runs the cleanup phase on a best-effort basis: its hooks execute
// even when the instance already failed or aborted. A failure here is
// recorded but never masks the original failure cause.
func (p *Pipeline) cleanup(ctx context.Context, res *model.Result) {
	p.toTerminal(model.StateCleanup)
	if err := p.phase(ctx, hook.PhaseCleanup, nil); err != nil {
		res.CleanupError = err.Error()
		p.logger.Warn("cleanup failed", "error", err)
		if res.State == model.ResultPassed {
			// A case that only fails during cleanup still fails.
			var pe *Error
			if errors.As(err, &pe) {
				res.State = model.ResultFailed
				res.FailureKind = pe.Kind
				res.FailurePhase = hook.PhaseCleanup
				res.Error = pe.Err.Error()
			}
			return
		}
	}
	if res.State == model.ResultPassed {
		p.toTerminal(model.StateDone)
	}
}

// setupBody prepares the case's isolated working directory.
func (p *Pipeline) setupBody(ctx context.Context) error {
	if p.workDir == "" {
		return fmt.Errorf("no working directory assigned")
	}
	return nil
}

// compileBody runs the case's build command through the job controller and
// waits for it, bounded by the job timeout.
func (p *Pipeline) compileBody(ctx context.Context) error {
	if p.c.Build == nil {
		return fmt.Errorf("case is not run-only but declares no build command")
	}

	spec := job.Spec{
		ID:      p.c.ID + "-build",
		Command: p.c.Build.Command,
		Args:    p.c.Build.Args,
		WorkDir: p.workDir,
	}
	h, err := p.ctrl.Submit(ctx, spec)
	if err != nil {
		return fmt.Errorf("submit build: %w", err)
	}

	status, err := p.ctrl.Wait(ctx, h, p.jobTimeout())
	if err != nil {
		cancelErr := p.ctrl.Cancel(h)
		if cancelErr != nil {
			p.logger.Warn("cancel build job", "error", cancelErr)
		}
		return fmt.Errorf("wait for build: %w", err)
	}
	if status != job.StatusFinished {
		code, _ := h.ExitCode()
		return fmt.Errorf("build failed with status %s (exit code %d)", status, code)
	}
	return nil
}

// runBody submits the case's job and polls it in bounded increments until
// it reaches a terminal status, observing cancellation between increments.
func (p *Pipeline) runBody(ctx context.Context) error {
	spec := job.Spec{
		ID:      fmt.Sprintf("%s-a%d", p.c.ID, p.attempt),
		Command: p.c.Executable,
		Args:    p.c.Args,
		WorkDir: p.workDir,
	}

	h, err := p.ctrl.Submit(ctx, spec)
	if err != nil {
		// Submission failure ends the run phase without a poll loop.
		return fmt.Errorf("submit job: %w", err)
	}
	p.handle = h

	deadline := time.Now().Add(p.jobTimeout())
	ticker := time.NewTicker(p.cfg.pollInterval())
	defer ticker.Stop()

	for {
		status := p.ctrl.Poll(h)
		if status.Terminal() {
			if status != job.StatusFinished {
				code, _ := h.ExitCode()
				return fmt.Errorf("job ended with status %s (exit code %d)", status, code)
			}
			return nil
		}
		if time.Now().After(deadline) {
			if err := p.ctrl.Cancel(h); err != nil {
				p.logger.Warn("cancel timed-out job", "error", err)
			}
			return fmt.Errorf("job timed out after %s", p.jobTimeout())
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			// External interrupt while polling: kill the job, then abort.
			if err := p.ctrl.Cancel(h); err != nil {
				p.logger.Warn("cancel interrupted job", "error", err)
			}
			return ctx.Err()
		}
	}
}

// sanityBody evaluates the case's deferred sanity expression against the
// captured job output. A false evaluation is a sanity-kind failure, not a
// fault.
func (p *Pipeline) sanityBody(ctx context.Context) error {
	if p.c.Sanity == nil {
		return nil
	}
	env := p.exprEnv()
	ok, err := expr.EvalBool(p.c.Sanity, env)
	if err != nil {
		return fmt.Errorf("evaluate sanity expression: %w", err)
	}
	if !ok {
		return fmt.Errorf("sanity check failed")
	}
	return nil
}

// performanceBody judges each declared metric against its reference. A
// custom performance check takes over entirely; its errors fail the case
// regardless of strictness.
func (p *Pipeline) performanceBody(ctx context.Context) error {
	if p.c.PerfFn != nil {
		if err := p.c.PerfFn(ctx, p.env); err != nil {
			return fmt.Errorf("custom performance check: %w", err)
		}
		return nil
	}

	env := p.exprEnv()
	metrics := make([]string, 0, len(p.c.Perf))
	for name := range p.c.Perf {
		metrics = append(metrics, name)
	}
	sort.Strings(metrics)

	var violations []string
	for _, name := range metrics {
		value, err := expr.EvalFloat(p.c.Perf[name], env)
		if err != nil {
			// Evaluation faults fail the case even when non-strict;
			// strictness only relaxes tolerance judgment.
			return fmt.Errorf("evaluate metric %q: %w", name, err)
		}

		ref, ok := p.c.RefFor(p.cfg.System, name)
		if !ok {
			return fmt.Errorf("no reference for metric %q on system %q", name, p.cfg.System)
		}

		low, high := ref.Bounds()
		within := value >= low && value <= high
		p.recorder.PerfRecorded(model.PerfMetric{
			CaseID:    p.c.ID,
			Metric:    name,
			Value:     value,
			Reference: ref.Value,
			Lower:     ref.Lower,
			Upper:     ref.Upper,
			Unit:      ref.Unit,
			Within:    within,
			CreatedAt: time.Now().UTC(),
		})

		if !within {
			msg := fmt.Sprintf("%s = %g %s outside [%g, %g]", name, value, ref.Unit, low, high)
			if p.c.Strict {
				violations = append(violations, msg)
			} else {
				p.logger.Warn("performance outside tolerance (non-strict)", "violation", msg)
			}
		}
	}

	if len(violations) > 0 {
		return fmt.Errorf("performance check failed: %s", strings.Join(violations, "; "))
	}
	return nil
}

// exprEnv builds the evaluation environment from the run-phase handle.
func (p *Pipeline) exprEnv() *expr.Env {
	env := &expr.Env{WorkDir: p.workDir}
	if p.handle != nil {
		env.StdoutPath = p.handle.StdoutPath
		env.StderrPath = p.handle.StderrPath
	}
	return env
}

func (p *Pipeline) jobTimeout() time.Duration {
	if p.c.JobTimeout > 0 {
		return p.c.JobTimeout
	}
	if p.cfg.JobTimeout > 0 {
		return p.cfg.JobTimeout
	}
	return DefaultJobTimeout
}
