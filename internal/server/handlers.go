// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/bridge"
	"github.com/xkilldash9x/inspectbridge/internal/consolelog"
	"github.com/xkilldash9x/inspectbridge/internal/debugsession"
	"github.com/xkilldash9x/inspectbridge/internal/inspector"
)

// DefaultHTTPChannel is the cancel channel of HTTP inspections that name none.
const DefaultHTTPChannel = "http"

// Handlers serves the JSON HTTP routes.
type Handlers struct {
	log     *zap.Logger
	service Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, service Service) *Handlers {
	return &Handlers{
		log:     logger.Named("handlers"),
		service: service,
	}
}

// RegisterRoutes mounts the versioned API on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/inspect", h.HandleInspect)
		r.Post("/inspect/cancel", h.HandleCancel)
		r.Post("/logs/start", h.HandleStartLogs)
		r.Post("/logs/cancel", h.HandleCancelLogs)
		r.Get("/logs/{key}", h.HandleGetLogs)
		r.Get("/targets", h.HandleTargets)
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleInspect runs one pick for the lifetime of the request. A pick that ends
// without a selection answers 204.
func (h *Handlers) HandleInspect(w http.ResponseWriter, r *http.Request) {
	var req schemas.InspectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Channel == "" {
		req.Channel = DefaultHTTPChannel
	}

	h.log.Info("Received inspect request.", zap.Stringer("locator", req.Locator), zap.String("token", req.Token))
	data, err := h.service.Inspect(r.Context(), req)
	if err != nil {
		h.respondWithError(w, StatusFor(err), err.Error())
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, data)
}

// HandleCancel cancels an in-flight HTTP inspection.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req schemas.CancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		h.respondWithError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.Channel == "" {
		req.Channel = DefaultHTTPChannel
	}
	h.respondWithSuccess(w, http.StatusOK, CancelResult{Cancelled: h.service.Cancel(req.Channel, req.Token)})
}

// HandleStartLogs starts console capture for a locator.
func (h *Handlers) HandleStartLogs(w http.ResponseWriter, r *http.Request) {
	var req schemas.ConsoleCaptureRequest
	if !h.decode(w, r, &req) {
		return
	}
	// Capture outlives the request that starts it.
	token, err := h.service.StartConsoleCapture(context.WithoutCancel(r.Context()), req)
	if err != nil {
		h.respondWithError(w, StatusFor(err), err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusAccepted, CaptureStarted{Key: req.Locator.Key(), Token: token})
}

// HandleCancelLogs stops a console capture when the token matches.
func (h *Handlers) HandleCancelLogs(w http.ResponseWriter, r *http.Request) {
	var req schemas.ConsoleCancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Locator.Validate(); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, CancelResult{Cancelled: h.service.CancelConsoleCapture(req.Locator, req.Token)})
}

// HandleGetLogs returns the captured console text for a key.
func (h *Handlers) HandleGetLogs(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	logs, err := h.service.Logs(key)
	if err != nil {
		h.respondWithError(w, StatusFor(err), err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, LogsResult{Key: key, Logs: logs})
}

// HandleTargets lists the targets of a host window.
func (h *Handlers) HandleTargets(w http.ResponseWriter, r *http.Request) {
	infos, err := h.service.Targets(r.Context(), r.URL.Query().Get("window_id"))
	if err != nil {
		h.respondWithError(w, StatusFor(err), err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, infos)
}

// StatusFor maps a bridge error to an HTTP status code.
func StatusFor(err error) int {
	var sessionErr *debugsession.SessionError
	switch {
	case errors.Is(err, schemas.ErrInvalidLocator):
		return http.StatusBadRequest
	case errors.Is(err, inspector.ErrNoTarget),
		errors.Is(err, bridge.ErrNoWindow),
		errors.Is(err, consolelog.ErrNoLogs):
		return http.StatusNotFound
	case errors.As(err, &sessionErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, Response{Status: "error", Error: message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respond(w, statusCode, Response{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response.", zap.Error(err))
	}
}
