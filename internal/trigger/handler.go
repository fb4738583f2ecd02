// Package trigger — входные точки автоматизации: HTTP API для агентов и плановые триггеры.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/engine"
	"github.com/xela07ax/spaceai-automation/internal/identity"
	"github.com/xela07ax/spaceai-automation/internal/infra/auth"
	"github.com/xela07ax/spaceai-automation/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Invoker — то, что исполняет триггер. Реализуется engine.Dispatcher.
type Invoker interface {
	Invoke(ctx context.Context, tr domain.Trigger) (*engine.Result, error)
}

type Handler struct {
	invoker Invoker
	limiter *TenantLimiter
	metrics *metrics.Metrics
	logger  *zap.Logger
	timeout time.Duration
}

func NewHandler(invoker Invoker, limiter *TenantLimiter, m *metrics.Metrics, logger *zap.Logger, timeout time.Duration) *Handler {
	if m == nil {
		m = metrics.New(nil)
	}
	if limiter == nil {
		limiter = NewTenantLimiter(0, 1)
	}
	return &Handler{invoker: invoker, limiter: limiter, metrics: m, logger: logger.Named("trigger"), timeout: timeout}
}

// Routes монтирует API. authMW кладет identity тенанта в контекст.
func (h *Handler) Routes(r chi.Router, authMW func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(engine.TracingMiddleware)
		r.Use(authMW)
		r.Post("/v1/automation/events", h.HandleEvent)
	})
}

type eventRequest struct {
	EventType     string         `json:"event_type"`
	TenantID      string         `json:"tenant_id"`
	IntentKey     string         `json:"intent_key"`
	Params        map[string]any `json:"params"`
	SourceEventID string         `json:"source_event_id"`
}

type response struct {
	Status  string         `json:"status"`
	Code    string         `json:"code,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
	Result  *engine.Result `json:"result,omitempty"`
}

func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := engine.TraceID(ctx)

	tenantID := identity.TenantID(ctx)
	if tenantID != "" && !h.limiter.Allow(tenantID) {
		h.metrics.RateLimited.WithLabelValues(tenantID).Inc()
		writeJSON(w, http.StatusTooManyRequests, response{Status: "error", Code: "RateLimited", TraceID: traceID})
		return
	}

	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Reason: "invalid JSON body", TraceID: traceID})
		return
	}

	tr := domain.Trigger{
		EventType:     domain.EventType(req.EventType),
		TenantID:      req.TenantID,
		IntentKey:     req.IntentKey,
		Params:        req.Params,
		SourceEventID: req.SourceEventID,
		Source:        "webhook",
		ActorType:     "agent",
	}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		tr.ActorID = claims.UserID
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.invoker.Invoke(ctx, tr)
	if err != nil {
		var execErr *engine.ExecutionError
		code := "InternalError"
		if errors.As(err, &execErr) {
			code = execErr.Code
		}
		h.logger.Error("automation event failed",
			zap.String("trace_id", traceID), zap.String("intent_key", tr.IntentKey), zap.Error(err))
		// Детали внутренней ошибки наружу не отдаем
		writeJSON(w, http.StatusInternalServerError, response{Status: "failed", Code: code, TraceID: traceID})
		return
	}

	switch res.Outcome {
	case engine.OutcomeRefused:
		writeJSON(w, http.StatusUnprocessableEntity, response{
			Status:  "refused",
			Code:    string(res.Refusal.Code),
			Reason:  res.Refusal.Reason,
			TraceID: traceID,
		})
	case engine.OutcomeNotFound:
		writeJSON(w, http.StatusNotFound, response{Status: string(res.Outcome), TraceID: traceID})
	case engine.OutcomeDuplicate:
		writeJSON(w, http.StatusOK, response{Status: "duplicate", TraceID: traceID})
	default:
		writeJSON(w, http.StatusOK, response{Status: string(res.Outcome), TraceID: traceID, Result: res})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
