package domain

import "time"

// Trigger — входящий запрос автоматизации от агента или планировщика.
type Trigger struct {
	EventType     EventType      `json:"event_type"`
	TenantID      string         `json:"tenant_id"`
	IntentKey     string         `json:"intent_key"`
	Params        map[string]any `json:"params"`
	SourceEventID string         `json:"source_event_id,omitempty"`

	Source    string `json:"source,omitempty"`     // "webhook", "schedule", "agent"
	ActorType string `json:"actor_type,omitempty"` // "agent", "system"
	ActorID   string `json:"actor_id,omitempty"`
}

// Draft — предложение, построенное draft-интентом. Состояние тенанта не меняет.
type Draft struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	IntentKey string         `json:"intent_key"`
	Title     string         `json:"title"`
	Proposal  map[string]any `json:"proposal"`
	CreatedAt time.Time      `json:"created_at"`
}
