// Package v1 provides the REST API handlers for dashboard views and sessions.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelmarket/sentinel-sync/internal/api/common"
	"github.com/sentinelmarket/sentinel-sync/internal/service"
	"github.com/sentinelmarket/sentinel-sync/internal/versions"
	"github.com/sentinelmarket/sentinel-sync/internal/view"
)

// maxRequestBody bounds JSON request bodies
const maxRequestBody = 64 << 10

// MountRequest is the optional body of POST /views/{view}/sessions
type MountRequest struct {
	// Polling defaults to true
	Polling *bool `json:"polling,omitempty"`
	// Interval overrides the view polling interval, e.g. "15s"
	Interval string `json:"interval,omitempty"`
	// Params select the endpoints of a parameterised view, e.g. {"ticker":"TCS"}
	Params map[string]string `json:"params,omitempty"`
}

// PollingRequest is the body of PUT /sessions/{id}/polling
type PollingRequest struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`
}

// ViewListResponse is the response of GET /views
type ViewListResponse struct {
	Views []service.ViewInfo `json:"views"`
}

// Routes defines the routes for the dashboard API with dependency injection
type Routes struct {
	service service.DashboardService
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.DashboardService) *Routes {
	return &Routes{
		service: svc,
	}
}

// Router creates a new router for the dashboard API
func Router(svc service.DashboardService) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()

	r.Get("/views", routes.listViews)
	r.Post("/views/{view}/sessions", routes.mount)

	r.Route("/sessions/{session}", func(r chi.Router) {
		r.Get("/", routes.getSession)
		r.Delete("/", routes.unmount)
		r.Post("/refresh", routes.refresh)
		r.Put("/polling", routes.setPolling)
		r.Delete("/notifications/{notification}", routes.dismiss)
	})

	r.Post("/pipelines/{pipeline}/run", routes.runPipeline)
	r.Get("/upstream", routes.upstream)

	return r
}

// listViews handles GET /api/v1/views
func (rr *Routes) listViews(w http.ResponseWriter, r *http.Request) {
	common.WriteJSONResponse(w, ViewListResponse{Views: rr.service.ListViews(r.Context())}, http.StatusOK)
}

// mount handles POST /api/v1/views/{view}/sessions
func (rr *Routes) mount(w http.ResponseWriter, r *http.Request) {
	viewID, err := common.GetAndValidateURLParam(r, "view")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req MountRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := []service.Option[service.MountOptions]{
		service.WithIntervalString[service.MountOptions](req.Interval),
	}
	if req.Polling != nil {
		opts = append(opts, service.WithPolling[service.MountOptions](*req.Polling))
	}
	if len(req.Params) > 0 {
		opts = append(opts, service.WithParams(req.Params))
	}

	sess, err := rr.service.Mount(r.Context(), viewID, opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID)
	common.WriteJSONResponse(w, sess, http.StatusCreated)
}

// getSession handles GET /api/v1/sessions/{session}
func (rr *Routes) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := common.GetAndValidateURLParam(r, "session")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := rr.service.Session(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, sess, http.StatusOK)
}

// unmount handles DELETE /api/v1/sessions/{session}
func (rr *Routes) unmount(w http.ResponseWriter, r *http.Request) {
	sessionID, err := common.GetAndValidateURLParam(r, "session")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := rr.service.Unmount(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refresh handles POST /api/v1/sessions/{session}/refresh
func (rr *Routes) refresh(w http.ResponseWriter, r *http.Request) {
	sessionID, err := common.GetAndValidateURLParam(r, "session")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := rr.service.Refresh(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, sess, http.StatusOK)
}

// setPolling handles PUT /api/v1/sessions/{session}/polling
func (rr *Routes) setPolling(w http.ResponseWriter, r *http.Request) {
	sessionID, err := common.GetAndValidateURLParam(r, "session")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req PollingRequest
	if err := decodeBody(r, &req); err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := rr.service.SetPolling(r.Context(), sessionID,
		service.WithPolling[service.PollingOptions](req.Enabled),
		service.WithIntervalString[service.PollingOptions](req.Interval),
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, sess, http.StatusOK)
}

// dismiss handles DELETE /api/v1/sessions/{session}/notifications/{notification}
func (rr *Routes) dismiss(w http.ResponseWriter, r *http.Request) {
	sessionID, err := common.GetAndValidateURLParam(r, "session")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	notificationID, err := common.GetAndValidateURLParam(r, "notification")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := rr.service.Dismiss(r.Context(), sessionID, notificationID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runPipeline handles POST /api/v1/pipelines/{pipeline}/run
func (rr *Routes) runPipeline(w http.ResponseWriter, r *http.Request) {
	name, err := common.GetAndValidateURLParam(r, "pipeline")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, err := rr.service.RunPipeline(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, body, http.StatusAccepted)
}

// upstream handles GET /api/v1/upstream
func (rr *Routes) upstream(w http.ResponseWriter, r *http.Request) {
	common.WriteJSONResponse(w, rr.service.Upstream(r.Context()), http.StatusOK)
}

// writeServiceError maps service errors to HTTP status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrViewNotFound),
		errors.Is(err, service.ErrNotificationNotFound):
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, view.ErrCycleInFlight):
		common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidPipelineName),
		errors.Is(err, service.ErrInvalidOption):
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrServiceClosed):
		common.WriteErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("Request failed", "error", err)
		common.WriteErrorResponse(w, err.Error(), http.StatusBadGateway)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decodeOptionalBody accepts an empty body
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeBody(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(svc service.DashboardService) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(svc))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, common.HealthResponse{Status: "healthy"}, http.StatusOK)
}

// readinessHandler handles readiness check requests
func readinessHandler(svc service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CheckReadiness(r.Context()); err != nil {
			common.WriteErrorResponse(w, "Service not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, common.ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
