package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
	"github.com/markdave123-py/knowledge-ingest/internal/logger"
	"github.com/markdave123-py/knowledge-ingest/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps service errors onto status codes. Internal errors
// are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "embedding provider is rate limiting, try again later")
	case errors.Is(err, core.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "embedding provider unavailable")
	default:
		logger.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
