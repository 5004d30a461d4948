// Package runner drives a queue of test cases through a bounded worker
// pool. Each case's pipeline runs sequentially on one worker; the pool
// coordinates interrupts so that queued cases are not started once a stop
// is requested, while already-running cases still reach a terminal state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/seantiz/crucible/internal/job"
	"github.com/seantiz/crucible/internal/loader"
	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/pipeline"
	"github.com/seantiz/crucible/internal/store"
)

// DefaultConcurrency is the worker count when none is configured.
const DefaultConcurrency = 4

// Summary is the outcome of a whole run.
type Summary struct {
	Results  []*model.Result
	Skipped  []*model.Result
	Rejected []loader.Rejection
}

// ExitCode is non-zero when any case failed or aborted.
func (s *Summary) ExitCode() int {
	for _, r := range s.Results {
		if r.State == model.ResultFailed || r.State == model.ResultAborted {
			return 1
		}
	}
	return 0
}

// Pool runs case pipelines on a bounded number of workers.
type Pool struct {
	size      int
	cfg       pipeline.Config
	registry  *job.Registry
	store     store.Store
	broker    *Broker
	logger    *slog.Logger
	stageRoot string

	mu      sync.Mutex
	results []*model.Result
	fatal   error
	cancel  context.CancelFunc
}

// NewPool creates a worker pool. stageRoot is the directory under which
// each case gets its isolated working directory.
func NewPool(size int, cfg pipeline.Config, reg *job.Registry, st store.Store, stageRoot string, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultConcurrency
	}
	return &Pool{
		size:      size,
		cfg:       cfg,
		registry:  reg,
		store:     st,
		broker:    NewBroker(),
		logger:    logger,
		stageRoot: stageRoot,
	}
}

// Broker returns the pool's event broker for subscription.
func (p *Pool) Broker() *Broker {
	return p.broker
}

// Run drives every case in the queue to a terminal state and returns the
// run summary. The returned error is non-nil when the run was stopped early
// by an interrupt or a terminate request; the summary still covers every
// case that was started.
func (p *Pool) Run(ctx context.Context, q *loader.Queue) (*Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel

	for _, r := range q.Skipped {
		p.persist(r)
	}

	queue := make(chan *model.Case)
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range queue {
				p.runCase(runCtx, c)
			}
		}()
	}

	fed := 0
feed:
	for fed < len(q.Cases) {
		select {
		case queue <- q.Cases[fed]:
			fed++
		case <-runCtx.Done():
			break feed
		}
	}
	close(queue)
	// Stop requested: queued cases are not started, but they are recorded
	// so the abort report shows what never ran.
	for _, c := range q.Cases[fed:] {
		p.recordUnstarted(c)
	}
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fatal == nil && ctx.Err() != nil {
		p.fatal = ctx.Err()
	}
	summary := &Summary{
		Results:  p.results,
		Skipped:  q.Skipped,
		Rejected: q.Rejected,
	}
	return summary, p.fatal
}

// runCase builds and drives one case pipeline.
func (p *Pool) runCase(ctx context.Context, c *model.Case) {
	defer p.broker.Close(c.ID)

	ctrl, err := p.registry.Resolve(c.Scheduler)
	if err != nil {
		now := time.Now().UTC()
		p.persist(&model.Result{
			CaseID:      c.ID,
			Name:        c.Name,
			DefName:     c.DefName,
			State:       model.ResultFailed,
			FailureKind: model.KindRun,
			Error:       fmt.Sprintf("resolve job controller: %v", err),
			CreatedAt:   now,
			FinishedAt:  &now,
		})
		return
	}

	workDir := filepath.Join(p.stageRoot, c.Name)
	pl := pipeline.New(c, ctrl, p.cfg, workDir, p.logger, p.observer())
	res, fatal := pl.Run(ctx)

	casesTotal.WithLabelValues(res.State).Inc()
	caseDuration.WithLabelValues(res.State).Observe(float64(res.DurationMS) / 1000)
	p.persist(res)

	if fatal != nil && errors.Is(fatal, pipeline.ErrTerminate) {
		p.mu.Lock()
		if p.fatal == nil {
			p.fatal = fatal
		}
		p.mu.Unlock()
		p.logger.Warn("terminate requested, stopping run", "case", c.Name)
		p.cancel()
	}
}

// recordUnstarted reports a queued case that never ran because the run was
// stopped.
func (p *Pool) recordUnstarted(c *model.Case) {
	now := time.Now().UTC()
	p.persist(&model.Result{
		CaseID:      c.ID,
		Name:        c.Name,
		DefName:     c.DefName,
		State:       model.ResultAborted,
		FailureKind: model.KindInterrupt,
		Error:       "run aborted before case started",
		CreatedAt:   now,
		FinishedAt:  &now,
	})
}

// persist records a result in memory and in the store.
func (p *Pool) persist(r *model.Result) {
	p.mu.Lock()
	p.results = append(p.results, r)
	p.mu.Unlock()

	if p.store == nil {
		return
	}
	if err := p.store.SaveResult(context.Background(), r); err != nil {
		p.logger.Error("save result", "case_id", r.CaseID, "error", err)
	}
}

// observer adapts the pool's broker and store into a pipeline recorder.
func (p *Pool) observer() pipeline.Recorder {
	return &poolObserver{pool: p}
}

type poolObserver struct {
	pool *Pool
}

func (o *poolObserver) StateChanged(caseID, state string) {
	o.pool.broker.Publish(Event{CaseID: caseID, State: state, At: time.Now().UTC()})
}

func (o *poolObserver) PerfRecorded(m model.PerfMetric) {
	if !m.Within {
		perfViolations.Inc()
	}
	if o.pool.store == nil {
		return
	}
	if err := o.pool.store.InsertPerfMetric(context.Background(), &m); err != nil {
		o.pool.logger.Error("save perf metric", "case_id", m.CaseID, "metric", m.Metric, "error", err)
	}
}
