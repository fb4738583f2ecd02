// Package metrics — метрики Prometheus движка автоматизации.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла обработка интента
	InvocationDuration *prometheus.HistogramVec

	// Traffic: итог каждого вызова (success, refused, failed, duplicate)
	Invocations *prometheus.CounterVec

	// Refusals: классификация отказов по коду
	Refusals *prometheus.CounterVec

	// Dedup: сколько повторных триггеров было подавлено
	DuplicatesSuppressed *prometheus.CounterVec

	// Audit: заполненность буфера (backpressure), потери и сбои записи
	AuditBufferFill    prometheus.Gauge
	AuditDropped       prometheus.Counter
	AuditWriteFailures prometheus.Counter

	// Saturation: отказы лимитера триггеров
	RateLimited *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		InvocationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automation_invocation_duration_seconds",
			Help:    "Histogram of intent invocation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"intent_key", "level", "outcome"}),

		Invocations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_invocations_total",
			Help: "Total number of intent invocations by outcome.",
		}, []string{"intent_key", "level", "outcome"}),

		Refusals: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_refusals_total",
			Help: "Total number of refusals by code.",
		}, []string{"code"}),

		DuplicatesSuppressed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_duplicates_suppressed_total",
			Help: "Mutations skipped because the idempotency fingerprint was already claimed.",
		}, []string{"intent_key"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "automation_audit_buffer_utilization",
			Help: "Current number of records in audit buffer.",
		}),

		AuditDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "automation_audit_dropped_total",
			Help: "Audit records dropped because of overflow or shutdown.",
		}),

		AuditWriteFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "automation_audit_write_failures_total",
			Help: "Audit batches that could not be persisted after retries.",
		}),

		RateLimited: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_rate_limited_total",
			Help: "Triggers rejected by the per-tenant rate limiter.",
		}, []string{"tenant_id"}),
	}
}
