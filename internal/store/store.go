package store

import (
	"context"
	"errors"

	"github.com/seantiz/crucible/internal/model"
)

// ErrNotFound is returned when a case result is not found.
var ErrNotFound = errors.New("result not found")

// RunStats holds aggregate statistics over recorded case results.
type RunStats struct {
	Total         int            `json:"total"`
	CountByState  map[string]int `json:"count_by_state"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for case results and
// performance metrics.
type Store interface {
	SaveResult(ctx context.Context, r *model.Result) error
	GetResult(ctx context.Context, caseID string) (*model.Result, error)
	ListResults(ctx context.Context, limit, offset int) ([]*model.Result, int, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	InsertPerfMetric(ctx context.Context, m *model.PerfMetric) error
	GetPerfMetrics(ctx context.Context, caseID string) ([]model.PerfMetric, error)
	Close() error
}
