// Package api provides the admin HTTP API for Courier.
//
// Every management route is scoped to a tenant schema taken from the path:
// /tenants/{schema}/...
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the root HTTP handler for the Courier admin API.
type Handler struct {
	health     Pinger
	webhooks   *webhook.Service
	deliveries *delivery.Service
	dead       *dlq.Service
	dispatcher *delivery.Dispatcher
	logger     *slog.Logger
	mux        *http.ServeMux
}

// NewHandler creates a new admin API handler. A nil dispatcher leaves the
// event ingestion route unregistered.
func NewHandler(
	health Pinger,
	webhooks *webhook.Service,
	deliveries *delivery.Service,
	dead *dlq.Service,
	dispatcher *delivery.Dispatcher,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		health:     health,
		webhooks:   webhooks,
		deliveries: deliveries,
		dead:       dead,
		dispatcher: dispatcher,
		logger:     logger,
		mux:        http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.healthz)

	// Webhooks
	h.mux.HandleFunc("POST /tenants/{schema}/webhooks", h.createWebhook)
	h.mux.HandleFunc("GET /tenants/{schema}/webhooks", h.listWebhooks)
	h.mux.HandleFunc("GET /tenants/{schema}/webhooks/{id}", h.getWebhook)
	h.mux.HandleFunc("PUT /tenants/{schema}/webhooks/{id}", h.updateWebhook)
	h.mux.HandleFunc("DELETE /tenants/{schema}/webhooks/{id}", h.deleteWebhook)
	h.mux.HandleFunc("POST /tenants/{schema}/webhooks/{id}/rotate-secret", h.rotateSecret)
	h.mux.HandleFunc("POST /tenants/{schema}/webhooks/{id}/test", h.testWebhook)

	// Deliveries
	h.mux.HandleFunc("GET /tenants/{schema}/webhooks/{id}/deliveries", h.listDeliveries)
	h.mux.HandleFunc("GET /tenants/{schema}/deliveries/{id}", h.getDelivery)
	h.mux.HandleFunc("POST /tenants/{schema}/deliveries/{id}/redeliver", h.redeliver)

	// Dead letters
	h.mux.HandleFunc("GET /tenants/{schema}/dead-letters", h.listDeadLetters)
	h.mux.HandleFunc("POST /tenants/{schema}/dead-letters/{id}/requeue", h.requeue)

	// Events
	if h.dispatcher != nil {
		h.mux.HandleFunc("POST /tenants/{schema}/events", h.dispatchEvent)
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// serviceError maps a service error to a response. Infrastructure failures
// are logged and hidden behind a generic message.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *webhook.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, tenant.ErrInvalidSchema),
		errors.Is(err, delivery.ErrInvalidEventType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, webhook.ErrNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	case errors.Is(err, delivery.ErrNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
	case errors.Is(err, delivery.ErrInFlight):
		writeError(w, http.StatusConflict, "delivery attempt in progress")
	default:
		h.logger.ErrorContext(r.Context(), "api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt returns a non-negative query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func pathWebhookID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	whID, err := id.ParseWebhookID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return id.Nil, false
	}
	return whID, true
}

func pathDeliveryID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	delID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return id.Nil, false
	}
	return delID, true
}

// orEmpty renders nil slices as [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
