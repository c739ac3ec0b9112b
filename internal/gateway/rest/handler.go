// Package rest exposes the write path and operational endpoints over HTTP.
package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/syntrixbase/fanout/internal/server"
	"github.com/syntrixbase/fanout/internal/server/ratelimit"
	"github.com/syntrixbase/fanout/pkg/model"
)

// Writer is the write path behind the ingest endpoints.
type Writer interface {
	SaveTimeseries(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry) error
	DeleteTimeseries(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) error
	SaveAttributes(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) error
	DeleteAttributes(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) error
	PublishAlarm(tenantID model.TenantID, alarm *model.AlarmInfo, deleted bool) error
	PublishNotification(tenantID model.TenantID, recipientID model.EntityID, update model.NotificationUpdate)
	PublishNotificationRequest(tenantID model.TenantID, update model.NotificationRequestUpdate)
}

// StatsFunc returns a JSON-encodable snapshot for /debug/stats.
type StatsFunc func() any

type Handler struct {
	writer Writer
	stats  StatsFunc
	now    func() time.Time

	ingestLimiter ratelimit.Limiter
	ingestRetry   string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithIngestRateLimiter applies limiter to the write endpoints on top of the
// server-wide limit.
func WithIngestRateLimiter(limiter ratelimit.Limiter, cfg ratelimit.Config) HandlerOption {
	return func(h *Handler) {
		h.ingestLimiter = limiter
		h.ingestRetry = ratelimit.RetryAfter(cfg)
	}
}

// WithStats sets the source of /debug/stats.
func WithStats(stats StatsFunc) HandlerOption {
	return func(h *Handler) {
		h.stats = stats
	}
}

func NewHandler(writer Writer, opts ...HandlerOption) (*Handler, error) {
	if writer == nil {
		return nil, errors.New("writer cannot be nil")
	}
	h := &Handler{
		writer: writer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Default body size limits
const (
	DefaultMaxBodySize = 1 << 20  // 1MB
	LargeMaxBodySize   = 10 << 20 // 10MB for batched telemetry
)

const DefaultRequestTimeout = 30 * time.Second

// APIError represents a structured error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Warn("Failed to encode error response", "error", err)
	}
}

// writeWriteError maps write path errors to a response. Client cancellation
// gets 499 instead of 500.
func writeWriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case model.IsCanceled(err):
		w.WriteHeader(499) // Client Closed Request
	default:
		slog.Error("Write failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", server.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// withTimeout wraps a handler with a context timeout
func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

func (h *Handler) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.ingestLimiter != nil && !h.ingestLimiter.Allow(ratelimit.GetClientIP(r)) {
			w.Header().Set("Retry-After", h.ingestRetry)
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests")
			return
		}
		next(w, r)
	}
}

// write composes the middleware shared by every ingest route.
func (h *Handler) write(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return withTimeout(h.limited(maxBodySize(next, maxBytes)), DefaultRequestTimeout)
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	const entity = "/api/v1/tenants/{tenant}/entities/{entityType}/{entityId}"

	mux.HandleFunc("POST "+entity+"/timeseries", h.write(h.handleSaveTimeseries, LargeMaxBodySize))
	mux.HandleFunc("DELETE "+entity+"/timeseries", h.write(h.handleDeleteTimeseries, DefaultMaxBodySize))
	mux.HandleFunc("POST "+entity+"/attributes/{scope}", h.write(h.handleSaveAttributes, DefaultMaxBodySize))
	mux.HandleFunc("DELETE "+entity+"/attributes/{scope}", h.write(h.handleDeleteAttributes, DefaultMaxBodySize))

	mux.HandleFunc("POST /api/v1/tenants/{tenant}/alarms", h.write(h.handleAlarm(false), DefaultMaxBodySize))
	mux.HandleFunc("DELETE /api/v1/tenants/{tenant}/alarms", h.write(h.handleAlarm(true), DefaultMaxBodySize))
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/users/{userId}/notifications", h.write(h.handleNotification, DefaultMaxBodySize))
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/notification-requests", h.write(h.handleNotificationRequest, DefaultMaxBodySize))

	mux.HandleFunc("GET /healthz", withTimeout(h.handleHealth, 5*time.Second))
	mux.HandleFunc("GET /debug/stats", withTimeout(h.handleStats, 5*time.Second))
}
