/*
handlers.go - HTTP API handlers for the migration review surface

PURPOSE:
  Exposes the staged output of migration runs for human review, and lets an
  operator trigger runs and validation over HTTP. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Review:
    GET  /api/groups                       List source groups
    GET  /api/groups/{id}/statistics       Fingerprint distribution diagnostics
    GET  /api/groups/{id}/proposals        Staged Proposals for a group
    GET  /api/groups/{id}/assignments      Staged PHA records for a group

  Operations:
    POST /api/runs                         Run classification + synthesis
    POST /api/validate                     Post-run completeness validation
    GET  /api/health                       Liveness probe

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, bad request body
  - 404: Unknown group
  - 500: Store or engine failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/migration"
	"github.com/warp/commission-engine/store/sqlite"
	"github.com/warp/commission-engine/validate"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers. The sqlite store serves
// as source, staging and identifier authority; each POST /api/runs builds a
// fresh engine so every run gets its own run id and allocator seed.
type Handler struct {
	Store      *sqlite.Store
	Thresholds commission.Thresholds
}

// NewHandler creates a new handler with the given store and thresholds.
func NewHandler(store *sqlite.Store, thresholds commission.Thresholds) *Handler {
	return &Handler{Store: store, Thresholds: thresholds}
}

// =============================================================================
// REVIEW ENDPOINTS
// =============================================================================

// ListGroups handles GET /api/groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.Groups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list groups", err)
		return
	}
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, string(g))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetStatistics handles GET /api/groups/{id}/statistics. Statistics are
// recomputed from the source certificates on every call, over the same pool
// the engine classifies (pre-existing PHA excluded).
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	group := commission.GroupID(chi.URLParam(r, "id"))

	certs, err := h.Store.LoadCertificates(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load certificates", err)
		return
	}
	if len(certs) == 0 {
		writeError(w, http.StatusNotFound, "unknown group", nil)
		return
	}
	existing, err := h.Store.ExistingPHA(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load existing assignments", err)
		return
	}
	pool, _ := commission.ExcludeExisting(certs, existing)

	fingerprinted, err := commission.FingerprintAll(pool)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fingerprint certificates", err)
		return
	}

	stats := commission.Analyze(group, fingerprinted)
	writeJSON(w, http.StatusOK, toStatisticsDTO(stats))
}

// GetProposals handles GET /api/groups/{id}/proposals.
func (h *Handler) GetProposals(w http.ResponseWriter, r *http.Request) {
	group := commission.GroupID(chi.URLParam(r, "id"))

	proposals, err := h.Store.StagedProposals(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load proposals", err)
		return
	}
	out := make([]ProposalDTO, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, toProposalDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAssignments handles GET /api/groups/{id}/assignments.
func (h *Handler) GetAssignments(w http.ResponseWriter, r *http.Request) {
	group := commission.GroupID(chi.URLParam(r, "id"))

	assignments, err := h.Store.StagedAssignments(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load assignments", err)
		return
	}
	out := make([]AssignmentDTO, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, toAssignmentDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// OPERATION ENDPOINTS
// =============================================================================

// TriggerRun handles POST /api/runs. An empty body or empty group list runs
// every group in the source.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	engine, err := migration.New(r.Context(), h.Store, h.Store, h.Store, h.Store, h.Thresholds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build engine", err)
		return
	}

	if err := h.Store.BeginRun(r.Context(), engine.RunID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record run", err)
		return
	}

	var summary *migration.RunSummary
	if len(req.Groups) == 0 {
		summary, err = engine.Run(r.Context())
	} else {
		groups := make([]commission.GroupID, 0, len(req.Groups))
		for _, g := range req.Groups {
			groups = append(groups, commission.GroupID(g))
		}
		summary, err = engine.RunGroups(r.Context(), groups)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run failed", err)
		return
	}

	if err := h.Store.FinishRun(r.Context(), summary.RunID,
		len(summary.Processed), len(summary.Failed), summary.Proposals, summary.Assignments, false); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record run outcome", err)
		return
	}

	writeJSON(w, http.StatusOK, toRunSummaryDTO(summary))
}

// TriggerValidation handles POST /api/validate. An empty group list
// validates every group in the source.
func (h *Handler) TriggerValidation(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	var groups []commission.GroupID
	if len(req.Groups) == 0 {
		all, err := h.Store.Groups(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list groups", err)
			return
		}
		groups = all
	} else {
		for _, g := range req.Groups {
			groups = append(groups, commission.GroupID(g))
		}
	}

	v := &validate.Validator{Source: h.Store, Assignments: h.Store, Staging: h.Store}
	reports, err := v.Validate(r.Context(), groups, req.Deep)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "validation failed", err)
		return
	}

	out := make([]ValidationReportDTO, 0, len(reports))
	for _, report := range reports {
		out = append(out, toValidationReportDTO(report))
	}
	writeJSON(w, http.StatusOK, out)
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
