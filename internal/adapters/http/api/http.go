// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/credrank/internal/domain/dedupe"
	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/internal/report"
	"github.com/okian/credrank/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper

	// Submit persists the profile and enqueues the crawl stage. The
	// returned job tracks the whole pipeline for the candidate.
	Submit(ctx context.Context, profile model.CandidateProfile) (*model.Job, error)

	// Job looks up pipeline status by job id.
	Job(ctx context.Context, id string) (*model.Job, error)

	// Leaderboard reads the top entries of one role pool.
	Leaderboard(ctx context.Context, role model.Role, limit int) ([]model.LeaderboardEntry, error)

	// Report assembles the full per-candidate view.
	Report(ctx context.Context, candidateID string) (report.Report, error)

	// Cancel withdraws a candidate from processing.
	Cancel(ctx context.Context, candidateID string) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	candidatesHandler  *CandidatesHandler
	jobsHandler        *JobsHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		candidatesHandler:  NewCandidatesHandler(deps),
		jobsHandler:        NewJobsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, defaultMaxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/candidates", MetricsMiddleware(s.candidatesHandler.HandleSubmit, "candidates"))
	mux.HandleFunc("/candidates/", MetricsMiddleware(s.candidatesHandler.HandleCandidate, "candidate"))
	mux.HandleFunc("/jobs/", MetricsMiddleware(s.jobsHandler.HandleGetJob, "jobs"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
}

type ackResponse struct {
	Status      string `json:"status"`
	Duplicate   bool   `json:"duplicate"`
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// isNotFound allows the API to translate upstream not-found errors to 404
// without coupling to the packages that raise them.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
