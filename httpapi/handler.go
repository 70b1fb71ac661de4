// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"

	"github.com/bureau-foundation/gcbridge/lib/failure"
	"github.com/bureau-foundation/gcbridge/orchestrator"
	"github.com/bureau-foundation/gcbridge/presence"
	"github.com/bureau-foundation/gcbridge/profile"
)

// RequestIDHeader carries the per-request correlation id. A client
// supplied value is echoed; otherwise one is generated.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds request bodies. The only body is a one-time code.
const maxBodyBytes = 4096

// Core is what the routes need from the orchestrator.
type Core interface {
	Status() orchestrator.Status
	IsReady() bool
	Fetch(ctx context.Context, identifier string) (profile.Record, error)
	Login(ctx context.Context) (presence.Method, error)
	SubmitGuardCode(ctx context.Context, code string) error
	Disconnect(ctx context.Context) error
}

var _ Core = (*orchestrator.Orchestrator)(nil)

// Handler serves the routes. Create with NewHandler.
type Handler struct {
	core    Core
	logger  *slog.Logger
	handler http.Handler
}

// NewHandler builds the router. Responses are gzip-compressed when the
// client accepts it.
func NewHandler(core Core, logger *slog.Logger) *Handler {
	h := &Handler{core: core, logger: logger.With("component", "httpapi")}

	router := mux.NewRouter()
	router.Use(h.requestID)
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/v1/profiles/{identifier}", h.handleProfile).Methods(http.MethodGet)
	router.HandleFunc("/v1/login", h.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/v1/login/code", h.handleGuardCode).Methods(http.MethodPost)
	router.HandleFunc("/v1/disconnect", h.handleDisconnect).Methods(http.MethodPost)

	h.handler = gzhttp.GzipHandler(router)
	return h
}

func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.handler.ServeHTTP(writer, request)
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		id := request.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		writer.Header().Set(RequestIDHeader, id)

		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
		next.ServeHTTP(recorder, request)
		h.logger.Debug("request served",
			"request_id", id,
			"method", request.Method,
			"path", request.URL.Path,
			"status", recorder.status,
		)
	})
}

func (h *Handler) handleHealth(writer http.ResponseWriter, request *http.Request) {
	h.writeJSON(writer, http.StatusOK, h.core.Status())
}

func (h *Handler) handleReady(writer http.ResponseWriter, request *http.Request) {
	if !h.core.IsReady() {
		h.writeJSON(writer, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	h.writeJSON(writer, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) handleProfile(writer http.ResponseWriter, request *http.Request) {
	identifier := mux.Vars(request)["identifier"]
	record, err := h.core.Fetch(request.Context(), identifier)
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, record)
}

func (h *Handler) handleLogin(writer http.ResponseWriter, request *http.Request) {
	method, err := h.core.Login(request.Context())
	if errors.Is(err, presence.ErrGuardCodeRequired) {
		h.writeJSON(writer, http.StatusAccepted, map[string]string{"status": "guard_code_required"})
		return
	}
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, map[string]string{"status": "logged_in", "method": method.String()})
}

type guardCodeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) handleGuardCode(writer http.ResponseWriter, request *http.Request) {
	var body guardCodeRequest
	decoder := json.NewDecoder(io.LimitReader(request.Body, maxBodyBytes))
	if err := decoder.Decode(&body); err != nil {
		h.writeError(writer, failure.InvalidInput("decoding request body: %v", err))
		return
	}
	if err := h.core.SubmitGuardCode(request.Context(), body.Code); err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusAccepted, map[string]string{"status": "code_submitted"})
}

func (h *Handler) handleDisconnect(writer http.ResponseWriter, request *http.Request) {
	if err := h.core.Disconnect(request.Context()); err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, map[string]string{"status": "logged_out"})
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	if errors.Is(err, orchestrator.ErrNotStarted) {
		return http.StatusServiceUnavailable
	}
	switch failure.KindOf(err) {
	case failure.KindNotReady:
		return http.StatusServiceUnavailable
	case failure.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string       `json:"error"`
	Kind  failure.Kind `json:"kind,omitempty"`
}

func (h *Handler) writeError(writer http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Warn("request failed", "error", err)
	}
	h.writeJSON(writer, status, errorResponse{Error: err.Error(), Kind: failure.KindOf(err)})
}

// writeJSON encodes value with the status. An encoding failure means
// the client went away; it is logged.
func (h *Handler) writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		h.logger.Warn("writing JSON response", "error", err)
	}
}
