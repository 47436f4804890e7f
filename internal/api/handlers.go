// Package api exposes HTTP handlers for the activity log.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/flowstate/internal/auth"
	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
	"example.com/flowstate/internal/persistence"
)

const maxBodyBytes = 1 << 20

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service       *domain.Service
	webhookSecret []byte
}

// Option configures a Handler.
type Option func(*Handler)

// WithWebhookSecret enables X-Hub-Signature-256 verification on the GitHub webhook.
func WithWebhookSecret(secret string) Option {
	return func(h *Handler) {
		if secret != "" {
			h.webhookSecret = []byte(secret)
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/ingest", h.ingest)
	mux.HandleFunc("/v1/classify", h.classify)
	mux.HandleFunc("/v1/activities", h.listActivities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/projects/summary", h.projectSummary)
	mux.HandleFunc("/v1/webhooks/github", h.githubWebhook)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, true); !ok {
		return
	}

	raw, ok := decodeRawRecord(w, r)
	if !ok {
		return
	}
	h.ingestRecord(w, r, raw)
}

// ingestRecord runs the record through the service and maps the outcome to a response.
func (h *Handler) ingestRecord(w http.ResponseWriter, r *http.Request, raw normalize.RawInputRecord) {
	res, err := h.service.Ingest(r.Context(), raw)
	if err != nil {
		if errors.Is(err, normalize.ErrMalformedRecord) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	switch res.Outcome {
	case domain.OutcomeRejected:
		writeError(w, http.StatusUnprocessableEntity, "rejected", res.Reason)
	case domain.OutcomeReplay:
		writeJSON(w, http.StatusOK, toIngestResponse(res))
	default:
		writeJSON(w, http.StatusAccepted, toIngestResponse(res))
	}
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, false); !ok {
		return
	}

	raw, ok := decodeRawRecord(w, r)
	if !ok {
		return
	}

	record, emitted, err := h.service.Classify(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	resp := ClassifyResponse{Emitted: emitted}
	if emitted {
		resp.Record = &record
	} else {
		resp.Reason = normalize.RejectUnresolvedProject
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, false); !ok {
		return
	}

	activity, err := h.service.GetActivity(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, false); !ok {
		return
	}

	q := r.URL.Query()
	filter := domain.ListFilter{UserID: q.Get("user_id"), Project: strings.TrimSpace(q.Get("project"))}
	if filter.UserID == "" {
		filter.UserID = h.service.UserID()
	}

	limit := 20
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), filter, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) projectSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, false); !ok {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = h.service.UserID()
	}

	windowHours := 24
	if raw := r.URL.Query().Get("window_hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "window_hours must be a non-negative integer")
			return
		}
		windowHours = parsed
	}

	window := time.Duration(windowHours) * time.Hour
	counts, err := h.service.ProjectSummary(r.Context(), userID, window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := ProjectSummaryResponse{
		WindowSeconds: int64(window / time.Second),
		Projects:      make([]ProjectView, 0, len(counts)),
	}
	for _, c := range counts {
		resp.Total += c.Activities
		resp.Projects = append(resp.Projects, ProjectView{
			ProjectName:    c.ProjectName,
			Activities:     c.Activities,
			LastActivityAt: c.LastActivityAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireScope(w http.ResponseWriter, r *http.Request, write bool) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if write && !claims.HasScope(auth.ScopeActivitiesWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:write required")
		return nil, false
	}
	if !write && !auth.CanRead(claims) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:read required")
		return nil, false
	}
	return claims, true
}

func decodeRawRecord(w http.ResponseWriter, r *http.Request) (normalize.RawInputRecord, bool) {
	var raw normalize.RawInputRecord
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return raw, false
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return raw, false
	}
	return raw, true
}

// IngestResponse describes the outcome of POST /v1/ingest.
type IngestResponse struct {
	ActivityID   string `json:"activity_id"`
	ProjectName  string `json:"project_name"`
	ActivityType string `json:"activity_type"`
	Description  string `json:"activity_description"`
	Replay       bool   `json:"idempotent_replay"`
}

// ClassifyResponse is the dry-run result of POST /v1/classify.
type ClassifyResponse struct {
	Emitted bool                      `json:"emitted"`
	Record  *normalize.ActivityRecord `json:"record,omitempty"`
	Reason  string                    `json:"reason,omitempty"`
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID   string         `json:"activity_id"`
	UserID       string         `json:"user_id"`
	ProjectName  string         `json:"project_name"`
	ActivityType string         `json:"activity_type"`
	Description  string         `json:"activity_description"`
	Source       string         `json:"source"`
	Tool         string         `json:"tool"`
	Machine      string         `json:"machine"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	IngestedAt   time.Time      `json:"ingested_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ProjectView is one row of the project summary.
type ProjectView struct {
	ProjectName    string    `json:"project_name"`
	Activities     int       `json:"activities"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ProjectSummaryResponse lists activity counts per project over a window.
type ProjectSummaryResponse struct {
	WindowSeconds int64         `json:"window_seconds"`
	Total         int           `json:"total"`
	Projects      []ProjectView `json:"projects"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toIngestResponse(res domain.IngestResult) IngestResponse {
	a := res.Activity
	return IngestResponse{
		ActivityID:   a.ID,
		ProjectName:  a.ProjectName,
		ActivityType: a.ActivityType,
		Description:  a.Description,
		Replay:       res.Replay(),
	}
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:   a.ID,
		UserID:       a.UserID,
		ProjectName:  a.ProjectName,
		ActivityType: a.ActivityType,
		Description:  a.Description,
		Source:       a.Source(),
		Tool:         a.Tool(),
		Machine:      a.Machine(),
		Metadata:     a.Metadata,
		CreatedAt:    a.CreatedAt,
		IngestedAt:   a.IngestedAt,
	}
}
