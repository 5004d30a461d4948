// Package loader turns registered test definitions into the concrete run
// queue: it expands parameter fan-out, assigns identities, validates every
// instance's deferred expressions, and filters instances against the
// configured system. Invalid instances are rejected before any phase runs;
// they appear only in the rejection report, never in pass/fail results.
package loader

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/seantiz/crucible/internal/expr"
	"github.com/seantiz/crucible/internal/model"
)

// Param is one named parameter list of a definition. Fan-out expands the
// cross-product of all lists, preserving declaration order.
type Param struct {
	Name   string
	Values []string
}

// Definition is a registered test definition: the template from which
// concrete cases are built, one per parameter combination.
type Definition struct {
	Name   string
	Descr  string
	Params []Param

	// Build constructs the case for one parameter combination. The loader
	// fills in identity fields afterwards.
	Build func(params map[string]string) (*model.Case, error)
}

// Rejection reports a definition or instance excluded at load time.
type Rejection struct {
	DefName string            `json:"def_name"`
	Name    string            `json:"name,omitempty"`
	Kind    model.FailureKind `json:"kind"`
	Reason  string            `json:"reason"`
}

// Queue is the validated output of a load: the cases admitted to the run,
// the instances skipped by the system filter, and the rejections.
type Queue struct {
	Cases    []*model.Case
	Skipped  []*model.Result
	Rejected []Rejection
}

// NameSeq disambiguates instances that would otherwise share a name. It is
// owned by the loader and injected into case naming; mutation is serialized
// so concurrent construction cannot race.
type NameSeq struct {
	mu   sync.Mutex
	seen map[string]int
}

// NewNameSeq creates an empty naming sequence.
func NewNameSeq() *NameSeq {
	return &NameSeq{seen: make(map[string]int)}
}

// Next returns base unchanged the first time it is seen and base_N for
// subsequent occurrences, with N counting from 1.
func (s *NameSeq) Next(base string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seen[base]
	s.seen[base] = n + 1
	if n == 0 {
		return base
	}
	return base + "_" + strconv.Itoa(n)
}

// Loader holds the registration table of test definitions.
type Loader struct {
	system string
	logger *slog.Logger
	seq    *NameSeq

	mu   sync.Mutex
	defs []Definition
}

// New creates a loader for the given system.
func New(system string, logger *slog.Logger) *Loader {
	return &Loader{
		system: system,
		logger: logger,
		seq:    NewNameSeq(),
	}
}

// Register adds a definition to the registration table.
func (l *Loader) Register(def Definition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs = append(l.defs, def)
}

// Load expands and validates every registered definition and returns the
// run queue. Fan-out is deterministic: the same registration and parameter
// order produces the same instance order on every run.
func (l *Loader) Load() *Queue {
	l.mu.Lock()
	defs := make([]Definition, len(l.defs))
	copy(defs, l.defs)
	l.mu.Unlock()

	q := &Queue{}
	for _, def := range defs {
		l.expand(def, q)
	}
	l.logger.Info("suite loaded",
		"cases", len(q.Cases),
		"skipped", len(q.Skipped),
		"rejected", len(q.Rejected),
	)
	return q
}

func (l *Loader) expand(def Definition, q *Queue) {
	if def.Name == "" || def.Build == nil {
		q.Rejected = append(q.Rejected, Rejection{
			DefName: def.Name,
			Kind:    model.KindValidation,
			Reason:  "structurally empty definition: no name or build function",
		})
		return
	}

	for _, combo := range fanOut(def.Params) {
		c, err := def.Build(combo)
		if err != nil {
			q.Rejected = append(q.Rejected, Rejection{
				DefName: def.Name,
				Kind:    model.KindValidation,
				Reason:  fmt.Sprintf("build failed: %v", err),
			})
			continue
		}
		if c == nil {
			q.Rejected = append(q.Rejected, Rejection{
				DefName: def.Name,
				Kind:    model.KindValidation,
				Reason:  "build returned no case",
			})
			continue
		}

		c.ID = model.NewID()
		c.DefName = def.Name
		if c.Descr == "" {
			c.Descr = def.Descr
		}
		c.Params = combo
		c.Name = l.seq.Next(instanceName(def, combo))

		if reason := validate(c); reason != "" {
			q.Rejected = append(q.Rejected, Rejection{
				DefName: def.Name,
				Name:    c.Name,
				Kind:    model.KindValidation,
				Reason:  reason,
			})
			l.logger.Warn("case rejected", "case", c.Name, "reason", reason)
			continue
		}

		if !c.ValidFor(l.system) {
			now := time.Now().UTC()
			q.Skipped = append(q.Skipped, &model.Result{
				CaseID:    c.ID,
				Name:      c.Name,
				DefName:   c.DefName,
				State:     model.ResultSkipped,
				Error:     fmt.Sprintf("not valid for system %q", l.system),
				CreatedAt: now,
			})
			continue
		}

		q.Cases = append(q.Cases, c)
	}
}

// fanOut expands the cross-product of the parameter lists in declaration
// order: the first parameter varies slowest. A definition without
// parameters yields one empty combination.
func fanOut(params []Param) []map[string]string {
	combos := []map[string]string{{}}
	for _, p := range params {
		next := make([]map[string]string, 0, len(combos)*len(p.Values))
		for _, combo := range combos {
			for _, v := range p.Values {
				m := make(map[string]string, len(combo)+1)
				for k, val := range combo {
					m[k] = val
				}
				m[p.Name] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// instanceName derives the instance name from the definition name and its
// parameter values, in declared order.
func instanceName(def Definition, combo map[string]string) string {
	name := def.Name
	for _, p := range def.Params {
		name += "_" + combo[p.Name]
	}
	return name
}

// validate structurally checks one concrete case. An empty string means the
// case is admissible.
func validate(c *model.Case) string {
	if c.Executable == "" {
		return "declares no executable"
	}
	if !c.RunOnly && c.Build == nil {
		return "not run-only but declares no build command"
	}
	if c.Retry != nil && c.Retry.MaxAttempts <= 0 {
		return fmt.Sprintf("retry policy with non-positive max attempts %d", c.Retry.MaxAttempts)
	}
	if c.Sanity != nil {
		if err := expr.Validate(c.Sanity); err != nil {
			return fmt.Sprintf("sanity expression not re-evaluable: %v", err)
		}
	}
	for name, e := range c.Perf {
		if err := expr.Validate(e); err != nil {
			return fmt.Sprintf("performance expression %q not re-evaluable: %v", name, err)
		}
	}
	return ""
}
