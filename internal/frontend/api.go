package frontend

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/engine"
	"github.com/mailsift/mailsift/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

type startScanRequest struct {
	TimeRange string `json:"timeRange"`
}

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the engine state snapshot. Opening the UI is an
// entry point, so the dispatcher trigger is verified here too.
func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := srv.engine.EnsureDispatcher(ctx); err != nil {
		logger.Error(ctx, "failed to ensure dispatcher", "err", err)
	}

	snap, err := srv.engine.Snapshot(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStartScan begins an active scan over the requested time range.
func (srv *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := srv.engine.EnsureDispatcher(ctx); err != nil {
		logger.Error(ctx, "failed to ensure dispatcher", "err", err)
	}

	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.TimeRange == "" {
		req.TimeRange = "1day"
	}

	err := srv.engine.Start(ctx, req.TimeRange)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrLockConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, config.ErrMissingAPIKey), errors.Is(err, config.ErrMissingUserEmail):
		writeJSON(w, http.StatusPreconditionFailed, errorResponse{Error: err.Error()})
		return
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	snap, err := srv.engine.Snapshot(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
