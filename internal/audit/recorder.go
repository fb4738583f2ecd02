// Package audit — журнал исполнения интентов: неизменяемые append-only записи.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/identity"
	"github.com/xela07ax/spaceai-automation/internal/pii"
)

// Sink принимает готовые записи. Реализуется Writer'ом.
type Sink interface {
	Log(rec domain.AuditRecord)
}

// RecordParams — вход Recorder.Record. Обязательны OperationType, Status, Summary
// и Reference с EntityType/EntityID.
type RecordParams struct {
	TenantID      string
	OperationType string
	Status        domain.AuditStatus
	Source        string
	ActorType     string
	ActorID       string
	Summary       string
	Details       map[string]any
	Reference     domain.AuditReference
	Duration      time.Duration
	ErrorCode     string
	ErrorSummary  string
}

type Recorder struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger.Named("audit"), now: time.Now}
}

// FallbackSourceEventID строит ключ корреляции, когда вызывающий его не передал.
// Из-за метки времени каждый такой ключ уникален: для дедупликации он не годится.
func FallbackSourceEventID(operationType, entityID string, at time.Time) string {
	return fmt.Sprintf("manual:%s:%s:%d", operationType, entityID, at.UnixMilli())
}

// Record — best-effort: ошибки не возвращаются и не влияют на уже завершенную операцию.
func (r *Recorder) Record(ctx context.Context, p RecordParams) {
	if p.TenantID == "" {
		p.TenantID = identity.TenantID(ctx)
	}
	if err := validate(p); err != nil {
		r.logger.Error("AUDIT RECORD REJECTED",
			zap.String("operation_type", p.OperationType),
			zap.String("tenant_id", p.TenantID),
			zap.Error(err))
		return
	}

	now := r.now().UTC()
	ref := p.Reference
	if strings.TrimSpace(ref.SourceEventID) == "" {
		ref.SourceEventID = FallbackSourceEventID(p.OperationType, ref.EntityID, now)
	}

	rec := domain.AuditRecord{
		ID:            uuid.New().String(),
		TenantID:      p.TenantID,
		OccurredAt:    now,
		OperationType: p.OperationType,
		Status:        p.Status,
		Source:        p.Source,
		ActorType:     p.ActorType,
		ActorID:       p.ActorID,
		Summary:       pii.MaskString(p.Summary),
		Details:       pii.MaskMap(p.Details),
		Reference:     ref,
		DurationMs:    p.Duration.Milliseconds(),
		ErrorCode:     p.ErrorCode,
		ErrorSummary:  pii.MaskString(p.ErrorSummary),
	}

	r.sink.Log(rec)
}

func validate(p RecordParams) error {
	var missing []string
	if p.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if p.OperationType == "" {
		missing = append(missing, "operation_type")
	}
	switch p.Status {
	case domain.AuditSuccess, domain.AuditFailed, domain.AuditPartial:
	default:
		missing = append(missing, "status")
	}
	if p.Summary == "" {
		missing = append(missing, "summary")
	}
	if p.Reference.EntityType == "" {
		missing = append(missing, "reference.entity_type")
	}
	if p.Reference.EntityID == "" {
		missing = append(missing, "reference.entity_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("audit: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
