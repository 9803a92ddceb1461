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
	"github.com/okian/credrank/internal/resume"
	"github.com/okian/credrank/pkg/metrics"
)

// CandidateDependencies defines the interface for submission and report
// operations.
type CandidateDependencies interface {
	dedupe.Deduper
	Submit(ctx context.Context, profile model.CandidateProfile) (*model.Job, error)
	Report(ctx context.Context, candidateID string) (report.Report, error)
	Cancel(ctx context.Context, candidateID string) error
}

// submitRequest mirrors the OpenAPI schema for POST /candidates. A
// submission carries either explicit project URLs or free resume text to
// extract them from; both may be present.
type submitRequest struct {
	CandidateID string   `json:"candidate_id"`
	Role        string   `json:"role"`
	URLs        []string `json:"urls,omitempty"`
	ResumeText  string   `json:"resume_text,omitempty"`
}

func (s submitRequest) validate() error {
	if strings.TrimSpace(s.CandidateID) == "" {
		return errors.New("missing candidate_id")
	}
	if len(s.URLs) == 0 && strings.TrimSpace(s.ResumeText) == "" {
		return errors.New("either urls or resume_text is required")
	}
	return nil
}

// CandidatesHandler handles candidate submission and report requests.
type CandidatesHandler struct {
	deps CandidateDependencies
}

// NewCandidatesHandler creates a new candidates handler.
func NewCandidatesHandler(deps CandidateDependencies) *CandidatesHandler {
	return &CandidatesHandler{deps: deps}
}

// HandleSubmit handles POST /candidates requests.
func (h *CandidatesHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_candidate"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	role, err := model.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	urls := req.URLs
	var other []string
	if strings.TrimSpace(req.ResumeText) != "" {
		extracted := resume.ExtractURLs(req.ResumeText)
		urls = append(urls, extracted.RepoURLs...)
		other = extracted.OtherURLs
	}

	profile, err := model.NewCandidateProfile(req.CandidateID, urls, role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	profile.OtherURLs = other

	// Idempotency check - mark as seen first
	if h.deps.SeenAndRecord(r.Context(), profile.ID) {
		metrics.RecordCandidateDuplicate()
		writeJSON(w, http.StatusOK, ackResponse{
			Status: "duplicate", Duplicate: true, CandidateID: profile.ID,
		})
		return
	}

	job, err := h.deps.Submit(r.Context(), profile)
	if err != nil {
		// Roll back the seen mark so the client can retry.
		h.deps.Unrecord(r.Context(), profile.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	metrics.RecordCandidateSubmitted()
	writeJSON(w, http.StatusAccepted, ackResponse{
		Status: "accepted", CandidateID: profile.ID, JobID: job.ID,
	})
}

// HandleCandidate routes per-candidate subresources: GET {id}/report and
// POST {id}/cancel.
func (h *CandidatesHandler) HandleCandidate(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/candidates/")
	if id, ok := strings.CutSuffix(path, "/report"); ok && id != "" && !strings.Contains(id, "/") {
		h.handleReport(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(path, "/cancel"); ok && id != "" && !strings.Contains(id, "/") {
		h.handleCancel(w, r, id)
		return
	}
	http.NotFound(w, r)
}

// handleReport serves the per-candidate report. Appending ?format=md renders
// it as Markdown instead of JSON.
func (h *CandidatesHandler) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.get_report"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	rep, err := h.deps.Report(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(rep.Markdown()))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleCancel withdraws a candidate from further processing.
func (h *CandidatesHandler) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.cancel_candidate"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	if err := h.deps.Cancel(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "cancelled", CandidateID: id})
}
