// Package api provides HTTP API handlers for viewersense.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ayusman/viewersense/internal/params"
)

// maxParamsBody bounds the size of a parameter update.
const maxParamsBody = 64 << 10

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// ParamsHandler exposes the detection parameters at /api/params.
//
//	GET          returns the current snapshot
//	PUT, PATCH   merges a partial JSON object onto it, validates and stores it
type ParamsHandler struct {
	params params.Updater
	logger *slog.Logger
}

// NewParamsHandler creates a handler backed by p.
func NewParamsHandler(p params.Updater, logger *slog.Logger) *ParamsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParamsHandler{params: p, logger: logger.With("component", "api")}
}

// ServeHTTP implements the http.Handler interface.
func (h *ParamsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.params.Snapshot())
	case http.MethodPut, http.MethodPatch:
		h.update(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *ParamsHandler) update(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxParamsBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	next, err := h.params.Apply(body)
	if errors.Is(err, params.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("update parameters", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store parameters")
		return
	}

	writeJSON(w, http.StatusOK, next)
}
