package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listResultsResponse wraps the paginated list response.
type listResultsResponse struct {
	Results []*model.Result `json:"results"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	results, total, err := s.store.ListResults(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	if results == nil {
		results = []*model.Result{}
	}

	s.writeJSON(w, http.StatusOK, listResultsResponse{
		Results: results,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.store.GetResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		s.logger.Error("get result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

// perfMetricsResponse is the JSON response for GET /v1/results/:id/metrics.
type perfMetricsResponse struct {
	CaseID  string             `json:"case_id"`
	Metrics []model.PerfMetric `json:"metrics"`
}

func (s *Server) handleGetPerfMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	metrics, err := s.store.GetPerfMetrics(r.Context(), id)
	if err != nil {
		s.logger.Error("get perf metrics", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get perf metrics")
		return
	}

	if metrics == nil {
		metrics = []model.PerfMetric{}
	}

	s.writeJSON(w, http.StatusOK, perfMetricsResponse{
		CaseID:  id,
		Metrics: metrics,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
