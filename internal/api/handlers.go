// Package api exposes HTTP handlers for the analysis engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/analysis/internal/auth"
	"example.com/analysis/internal/domain"
	"example.com/analysis/internal/engine"
	"example.com/analysis/internal/persistence"
)

const maxPageLimit = 100

// Handler coordinates HTTP requests with the analysis engine.
type Handler struct {
	engine           *engine.Service
	days             domain.DayActivityRepository
	weeks            domain.WeekActivityRepository
	now              func() time.Time
	defaultPageLimit int
}

// HandlerOption configures optional behaviour for the Handler.
type HandlerOption func(*Handler)

// WithDefaultPageLimit overrides the page size used when a listing request
// carries no limit parameter.
func WithDefaultPageLimit(limit int) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.defaultPageLimit = limit
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(eng *engine.Service, days domain.DayActivityRepository, weeks domain.WeekActivityRepository, opts ...HandlerOption) *Handler {
	h := &Handler{engine: eng, days: days, weeks: weeks, now: time.Now, defaultPageLimit: 20}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/analysis/users/", h.analysisByUser)
	mux.HandleFunc("/v1/analysis/categories", h.relevantCategories)
	mux.HandleFunc("/v1/users/", h.activityByUser)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) analysisByUser(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/analysis/users/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	userID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid user id")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	switch parts[1] {
	case "app":
		h.submitAppActivity(w, r, userID)
	case "network":
		h.submitNetworkActivity(w, r, userID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) submitAppActivity(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeActivitySubmit) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activity:submit required")
		return
	}

	var req AppActivityBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	batch := engine.AppActivityBatch{DeviceTime: req.DeviceTime}
	for _, a := range req.Activities {
		batch.Activities = append(batch.Activities, engine.AppActivity{
			Application: a.Application,
			StartTime:   a.StartTime,
			EndTime:     a.EndTime,
		})
	}

	rejections, err := h.engine.AnalyzeAppActivity(r.Context(), userID, batch)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := AppActivityBatchResponse{Rejections: make([]RejectionView, 0, len(rejections))}
	for _, rej := range rejections {
		resp.Rejections = append(resp.Rejections, RejectionView{
			Application: rej.Application,
			StartTime:   rej.StartTime,
			EndTime:     rej.EndTime,
			Reason:      string(rej.Reason.Code),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) submitNetworkActivity(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeActivitySubmit) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activity:submit required")
		return
	}

	var req NetworkActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	networkActivity := engine.NetworkActivity{
		URL:        req.URL,
		Categories: req.Categories,
	}
	if req.EventTime != nil {
		networkActivity.EventTime = *req.EventTime
	}

	if err := h.engine.AnalyzeNetworkActivity(r.Context(), userID, networkActivity); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) relevantCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeActivityRead) && !claims.HasScope(auth.ScopeActivitySubmit) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activity:read required")
		return
	}

	categories, err := h.engine.RelevantNetworkCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RelevantCategoriesResponse{Categories: categories})
}

func (h *Handler) activityByUser(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] != "activity" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	userID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid user id")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeActivityRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activity:read required")
		return
	}

	switch parts[2] {
	case "days":
		h.listDayActivity(w, r, userID)
	case "weeks":
		h.listWeekActivity(w, r, userID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) listDayActivity(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	cursor, limit, err := h.pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	days, next, err := h.days.List(r.Context(), userID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := ListDayActivityResponse{
		Items:      make([]DayActivityView, 0, len(days)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, day := range days {
		resp.Items = append(resp.Items, toDayActivityView(day))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listWeekActivity(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	cursor, limit, err := h.pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	weeks, next, err := h.weeks.List(r.Context(), userID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	now := h.now()
	resp := ListWeekActivityResponse{
		Items:      make([]WeekActivityView, 0, len(weeks)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, week := range weeks {
		sealed := week.AggregatesComputed
		if err := week.ComputeAggregates(now); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		if week.AggregatesComputed && !sealed {
			// The week closed since its last write. Best effort: a
			// failure here means the next read recomputes.
			if err := h.weeks.SaveAggregates(r.Context(), week); err != nil {
				log.Printf("persisting aggregates of week %s failed: %v", week.ID, err)
			}
		}
		resp.Items = append(resp.Items, toWeekActivityView(week))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) pageParams(r *http.Request) (*domain.Cursor, int, error) {
	limit := h.defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, 0, errors.New("limit must be a positive integer")
		}
		if parsed > maxPageLimit {
			parsed = maxPageLimit
		}
		limit = parsed
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		return nil, 0, errors.New("invalid cursor")
	}
	return cursor, limit, nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "busy", "user is being processed, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// AppActivityBatchRequest is the payload for POST /v1/analysis/users/{id}/app.
type AppActivityBatchRequest struct {
	DeviceTime time.Time            `json:"device_time"`
	Activities []AppActivityPayload `json:"activities"`
}

// AppActivityPayload is one reported app usage interval.
type AppActivityPayload struct {
	Application string    `json:"application"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// Validate ensures request correctness.
func (r AppActivityBatchRequest) Validate() error {
	if r.DeviceTime.IsZero() {
		return errors.New("device_time is required")
	}
	if len(r.Activities) == 0 {
		return errors.New("activities must not be empty")
	}
	for _, a := range r.Activities {
		if strings.TrimSpace(a.Application) == "" {
			return errors.New("application is required")
		}
		if a.StartTime.IsZero() || a.EndTime.IsZero() {
			return errors.New("start_time and end_time are required")
		}
	}
	return nil
}

// NetworkActivityRequest is the payload for POST /v1/analysis/users/{id}/network.
type NetworkActivityRequest struct {
	URL        string     `json:"url"`
	Categories []string   `json:"categories"`
	EventTime  *time.Time `json:"event_time,omitempty"`
}

// Validate ensures request correctness.
func (r NetworkActivityRequest) Validate() error {
	if len(r.Categories) == 0 {
		return errors.New("categories must not be empty")
	}
	return nil
}

// RejectionView reports one event dropped by time validation.
type RejectionView struct {
	Application string    `json:"application,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Reason      string    `json:"reason"`
}

// AppActivityBatchResponse lists the rejected events of a batch. Accepted
// events are not echoed back.
type AppActivityBatchResponse struct {
	Rejections []RejectionView `json:"rejections"`
}

// RelevantCategoriesResponse lists the network category tags the engine
// cares about.
type RelevantCategoriesResponse struct {
	Categories []string `json:"categories"`
}

// ActivityIntervalView is one recorded interval of a day bucket.
type ActivityIntervalView struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// DayActivityView exposes a day bucket with its derived aggregates.
type DayActivityView struct {
	GoalID       string                 `json:"goal_id"`
	Date         string                 `json:"date"`
	Zone         string                 `json:"zone"`
	TotalMinutes int                    `json:"total_minutes"`
	Spread       []int                  `json:"spread"`
	Activities   []ActivityIntervalView `json:"activities"`
}

// WeekActivityView exposes a week bucket with its aggregates.
type WeekActivityView struct {
	GoalID       string `json:"goal_id"`
	StartOfWeek  string `json:"start_of_week"`
	Zone         string `json:"zone"`
	TotalMinutes int    `json:"total_minutes"`
	Spread       []int  `json:"spread"`
	DayCount     int    `json:"day_count"`
}

// ListDayActivityResponse packages day listing results.
type ListDayActivityResponse struct {
	Items      []DayActivityView `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// ListWeekActivityResponse packages week listing results.
type ListWeekActivityResponse struct {
	Items      []WeekActivityView `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toDayActivityView(day *domain.DayActivity) DayActivityView {
	spread := day.Spread()
	view := DayActivityView{
		GoalID:       day.GoalID.String(),
		Date:         day.Date.Format("2006-01-02"),
		Zone:         day.Zone,
		TotalMinutes: day.TotalMinutes(),
		Spread:       spread[:],
		Activities:   make([]ActivityIntervalView, 0, len(day.Activities)),
	}
	for _, a := range day.Activities {
		view.Activities = append(view.Activities, ActivityIntervalView{StartTime: a.StartTime, EndTime: a.EndTime})
	}
	return view
}

func toWeekActivityView(week *domain.WeekActivity) WeekActivityView {
	return WeekActivityView{
		GoalID:       week.GoalID.String(),
		StartOfWeek:  week.StartOfWeek.Format("2006-01-02"),
		Zone:         week.Zone,
		TotalMinutes: week.TotalMinutes,
		Spread:       week.Spread[:],
		DayCount:     week.DayCount,
	}
}
