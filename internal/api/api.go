// Package api exposes the backup service as an HTTP command API.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/fgeck/gohotbackup/internal/models"
	"github.com/fgeck/gohotbackup/internal/services/backup"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodySize bounds request bodies.
const maxBodySize = 64 * 1024

// Route paths.
const (
	PathStart    = "/v1/backup/start"
	PathThrottle = "/v1/backup/throttle"
	PathStatus   = "/v1/backup/status"
	PathKill     = "/v1/backup/kill"
	PathVersion  = "/v1/version"
)

// Response is the envelope of every command reply.
type Response struct {
	OK        bool                      `json:"ok"`
	ErrMsg    string                    `json:"errmsg,omitempty"`
	Error     *models.EngineErrorReport `json:"error,omitempty"`
	Reason    string                    `json:"reason,omitempty"`
	SessionID string                    `json:"sessionId,omitempty"`
	Version   string                    `json:"version,omitempty"`
}

// StatusResponse is the reply of the status command.
type StatusResponse struct {
	OK     bool   `json:"ok"`
	ErrMsg string `json:"errmsg,omitempty"`
	*models.StatusReport
}

// StartRequest is the body of the start command.
type StartRequest struct {
	Destination string `json:"destination"`
}

// ThrottleRequest is the body of the throttle command. BPS is a number or a
// quantity string like "10m".
type ThrottleRequest struct {
	BPS json.RawMessage `json:"bps"`
}

// KillRequest is the optional body of the kill command.
type KillRequest struct {
	Reason string `json:"reason"`
}

// Handler serves the backup commands.
type Handler struct {
	svc    backup.Service
	logger zerolog.Logger
}

// New creates a new API handler.
func New(logger zerolog.Logger, svc backup.Service) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Router builds the HTTP routes. The metrics endpoint is mounted when enabled.
func (h *Handler) Router(metrics models.MetricsConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.requestLogger)

	r.Post(PathStart, h.Start)
	r.Post(PathThrottle, h.Throttle)
	r.Get(PathStatus, h.Status)
	r.Post(PathKill, h.Kill)
	r.Get(PathVersion, h.Version)

	if metrics.Enabled {
		r.Handle(metrics.Path, promhttp.Handler())
	}

	return r
}

// Start runs a backup and replies once it has finished.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, &Response{ErrMsg: err.Error()})
		return
	}

	result, err := h.svc.Start(r.Context(), req.Destination)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrInvalidDestination) {
			status = http.StatusBadRequest
		}
		respondJSON(w, status, &Response{ErrMsg: err.Error()})
		return
	}

	resp := &Response{
		OK:        result.OK,
		SessionID: result.SessionID,
		Reason:    result.InterruptedReason,
	}
	status := http.StatusOK
	if !result.OK {
		status = http.StatusInternalServerError
		if result.Error != nil {
			report := result.Error.Report()
			resp.Error = &report
			resp.ErrMsg = result.Error.Message
		}
	}
	respondJSON(w, status, resp)
}

// Throttle sets the engine I/O limit.
func (h *Handler) Throttle(w http.ResponseWriter, r *http.Request) {
	var req ThrottleRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, &Response{ErrMsg: err.Error()})
		return
	}

	bps, err := decodeThrottle(req.BPS)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, &Response{ErrMsg: err.Error()})
		return
	}

	if err := h.svc.Throttle(r.Context(), bps); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrNegativeThrottle) {
			status = http.StatusBadRequest
		}
		respondJSON(w, status, &Response{ErrMsg: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, &Response{OK: true})
}

// Status reports the progress of the current backup.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.Status(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrNoBackupRunning) {
			status = http.StatusNotFound
		}
		respondJSON(w, status, &StatusResponse{ErrMsg: err.Error()})
		return
	}

	report := progress.Report()
	respondJSON(w, http.StatusOK, &StatusResponse{OK: true, StatusReport: &report})
}

// Kill interrupts the current backup.
func (h *Handler) Kill(w http.ResponseWriter, r *http.Request) {
	var req KillRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			respondJSON(w, http.StatusBadRequest, &Response{ErrMsg: err.Error()})
			return
		}
	}

	if err := h.svc.Kill(r.Context(), req.Reason); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrNoBackupRunning) {
			status = http.StatusNotFound
		}
		respondJSON(w, status, &Response{ErrMsg: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, &Response{OK: true})
}

// Version reports the engine version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.Version(r.Context())
	if err != nil {
		respondJSON(w, http.StatusBadGateway, &Response{ErrMsg: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, &Response{OK: true, Version: version})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.logger.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(data)
}
