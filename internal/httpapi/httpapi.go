// Package httpapi exposes the dispatch pipeline (C10) and the live-preview
// broadcaster (C14) over HTTP, grounded on the teacher's goa-generated
// transport layer (example/gen/http/assistant_chat/server/server.go): one
// route per operation, request decoded into the domain type, handler result
// encoded as JSON, errors mapped by apperr.Kind to a status code. Routing
// itself uses go-chi/chi/v5 rather than goa's generated mux, since nothing
// here is code-generated.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/preview"
	"github.com/lawercase/petition-orchestrator/internal/preview/wsbridge"
	"github.com/lawercase/petition-orchestrator/internal/session"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

// commandRequest is the wire shape of one POST /v1/commands body.
type commandRequest struct {
	CommandID string         `json:"command_id"`
	UserID    string         `json:"user_id"`
	Role      string         `json:"role"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	// SessionID attributes this command to a durable session, lazily
	// created on its first use by a given (session_id, user_id) pair.
	SessionID string `json:"session_id"`
}

type commandResponse struct {
	Status   string `json:"status"`
	Response any    `json:"response,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// NewRouter wires the command-dispatch endpoint, a preview websocket
// endpoint per thread, a Prometheus metrics handler, and a health check
// into one chi.Mux.
func NewRouter(dispatcher *dispatch.Dispatcher, broadcaster *preview.Broadcaster, sessions session.Store, metrics http.Handler, log telemetry.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Post("/v1/commands", handleCommand(dispatcher, sessions, log))

	if broadcaster != nil {
		ws := wsbridge.New(broadcaster, func(r *http.Request) string {
			return chi.URLParam(r, "threadID")
		}, log)
		r.Get("/v1/preview/{threadID}/ws", ws.ServeHTTP)
	}

	return r
}

func handleCommand(dispatcher *dispatch.Dispatcher, sessions session.Store, log telemetry.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, commandResponse{Status: "error", Reason: "malformed request body"})
			return
		}

		if req.SessionID != "" {
			ensureSession(r.Context(), sessions, req)
		}

		cmd := dispatch.Command{
			CommandID: req.CommandID,
			UserID:    req.UserID,
			Role:      req.Role,
			Kind:      req.Kind,
			Payload:   req.Payload,
			SessionID: req.SessionID,
		}
		resp, err := dispatcher.Dispatch(r.Context(), cmd)
		if err != nil {
			if log != nil {
				log.Error(r.Context(), "dispatch failed", "kind", cmd.Kind, "error", err)
			}
			writeJSON(w, statusFor(err), commandResponse{Status: "error", Reason: resp.Reason})
			return
		}
		writeJSON(w, http.StatusOK, commandResponse{Status: resp.Status, Response: resp.Response})
	}
}

// ensureSession lazily creates req.SessionID the first time it's seen.
// CreateSession is idempotent (it returns the existing session rather than
// erroring), so this is safe to call on every command carrying a
// SessionID; failures are ignored rather than failing the command, since
// session attribution is bookkeeping, not a precondition for dispatch.
func ensureSession(ctx context.Context, sessions session.Store, req commandRequest) {
	if sessions == nil {
		return
	}
	caseID, _ := req.Payload["case_id"].(string)
	_, _ = sessions.CreateSession(ctx, req.SessionID, req.UserID, caseID, time.Now())
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.SuspectedInjection:
		return http.StatusUnprocessableEntity
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvalidState:
		return http.StatusBadRequest
	case apperr.BudgetExceeded:
		return http.StatusPaymentRequired
	case apperr.ConcurrentUpdate:
		return http.StatusConflict
	case apperr.ProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
