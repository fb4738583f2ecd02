package domain

import "time"

type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailed  AuditStatus = "failed"
	AuditPartial AuditStatus = "partial"
)

// AuditReference связывает запись с сущностью и исходным событием (ключ корреляции).
type AuditReference struct {
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	SourceEventID string `json:"source_event_id"`
}

// AuditRecord — неизменяемая запись о попытке исполнения. Только append.
type AuditRecord struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	OperationType string         `json:"operation_type"`
	Status        AuditStatus    `json:"status"`
	Source        string         `json:"source"`
	ActorType     string         `json:"actor_type"`
	ActorID       string         `json:"actor_id"`
	Summary       string         `json:"summary"`
	Details       map[string]any `json:"details,omitempty"`
	Reference     AuditReference `json:"reference"`
	DurationMs    int64          `json:"duration_ms"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorSummary  string         `json:"error_summary,omitempty"`
}

// AuditFilter — фильтр выборки для консоли. TenantID обязателен.
type AuditFilter struct {
	TenantID      string
	OperationType string
	Status        AuditStatus
	Limit         int
}
