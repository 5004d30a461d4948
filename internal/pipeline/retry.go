package pipeline

import (
	"context"
	"errors"

	"github.com/seantiz/crucible/internal/model"
)

// retrier bounds repeated run→sanity cycles. It only does attempt
// bookkeeping; any state a case needs to carry across attempts is the
// business of its own run-phase commands (a counter file, typically),
// persisted in the working directory which survives between attempts.
type retrier struct {
	max  int
	used int
}

// newRetrier builds a retrier from a case's policy. A nil policy allows a
// single attempt. The loader rejects non-positive bounds before a case
// reaches the pipeline.
func newRetrier(policy *model.RetryPolicy) *retrier {
	max := 1
	if policy != nil && policy.MaxAttempts > 0 {
		max = policy.MaxAttempts
	}
	return &retrier{max: max}
}

// attempt returns the 1-based number of the attempt about to run.
func (r *retrier) attempt() int {
	r.used++
	return r.used
}

// retryable reports whether the given sanity failure should trigger another
// run attempt. Only ordinary sanity-kind failures are retried; interrupts
// and terminate requests always propagate.
func (r *retrier) retryable(err error) bool {
	if r.used >= r.max {
		return false
	}
	if errors.Is(err, ErrTerminate) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == model.KindSanity
}
