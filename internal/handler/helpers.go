// Package handler implements the HTTP endpoints. Every response, success or
// failure, uses the uniform envelope {success, message, data?, errors?}.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tenantstack/tenantstack/internal/audit"
	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/store"
)

// maxBodyBytes bounds request bodies. All payloads here are small JSON.
const maxBodyBytes = 1 << 20

// Handler carries the dependencies shared by every endpoint.
type Handler struct {
	store        *store.Store
	tokens       *auth.TokenIssuer
	recorder     *audit.Recorder
	logger       *slog.Logger
	dev          bool // verbose error detail in responses
	keyExpiryCap time.Duration
}

// Options tunes optional handler behavior.
type Options struct {
	// Development enables verbose error detail in 500 responses.
	Development bool
	// KeyExpiryCap bounds the requested API-key lifetime. Zero means
	// uncapped.
	KeyExpiryCap time.Duration
}

// New builds the endpoint set.
func New(st *store.Store, tokens *auth.TokenIssuer, recorder *audit.Recorder, logger *slog.Logger, opts Options) *Handler {
	return &Handler{
		store:        st,
		tokens:       tokens,
		recorder:     recorder,
		logger:       logger,
		dev:          opts.Development,
		keyExpiryCap: opts.KeyExpiryCap,
	}
}

// writeJSON serializes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeSuccess writes the success envelope.
func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, model.Response{Success: true, Message: message, Data: data})
}

// writeError writes the failure envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.Response{Success: false, Message: message})
}

// writeValidationErrors writes a 400 with per-field failure detail.
func writeValidationErrors(w http.ResponseWriter, errs []model.FieldError) {
	writeJSON(w, http.StatusBadRequest, model.Response{
		Success: false,
		Message: "Validation failed",
		Errors:  errs,
	})
}

// internalError logs the fault with full detail and returns a generic
// message, verbose only in development.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	h.logger.Error(message, "error", err, "path", r.URL.Path, "method", r.Method)
	resp := model.Response{Success: false, Message: message}
	if h.dev {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

// readJSON decodes the request body into v. Unknown fields are tolerated;
// oversized or malformed bodies are not.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}
