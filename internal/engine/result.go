package engine

import (
	"fmt"

	"github.com/xela07ax/spaceai-automation/internal/domain"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRefused   Outcome = "refused"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeNotFound  Outcome = "not_found"
)

// Result — ответ вызывающему. Отказ — штатный результат, а не ошибка.
type Result struct {
	Outcome   Outcome         `json:"status"`
	IntentKey string          `json:"intent_key,omitempty"`
	Data      any             `json:"data,omitempty"`
	Draft     *domain.Draft   `json:"draft,omitempty"`
	Refusal   *domain.Refusal `json:"refusal,omitempty"`
	EntityID  string          `json:"entity_id,omitempty"`
}

const (
	CodeHandlerFailed    = "HandlerFailed"
	CodeDedupUnavailable = "DedupUnavailable"
)

// ExecutionError — сбой обработчика после принятого решения исполнять.
// Запись аудита со status=failed к этому моменту уже поставлена в очередь.
type ExecutionError struct {
	Code      string
	IntentKey string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s failed (%s): %v", e.IntentKey, e.Code, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
