package domain

import "encoding/json"

// AutomationLevel — уровень автоматизации интента: чтение, черновик или исполнение.
type AutomationLevel string

const (
	LevelQuery   AutomationLevel = "query"   // Только чтение
	LevelDraft   AutomationLevel = "draft"   // Подготовка предложения, без мутаций
	LevelExecute AutomationLevel = "execute" // Реальное изменение состояния тенанта
)

// Valid проверяет, что уровень входит в закрытый список.
func (l AutomationLevel) Valid() bool {
	switch l {
	case LevelQuery, LevelDraft, LevelExecute:
		return true
	}
	return false
}

// ExecutionClass имеет смысл только для LevelExecute.
type ExecutionClass string

const (
	ClassUnconditional ExecutionClass = "unconditional"
	ClassGated         ExecutionClass = "gated" // Требует каталога действий и включенной политики
)

// Intent — именованная операция, которую может запросить автоматизация.
// После загрузки реестра не изменяется.
type Intent struct {
	Key         string          `json:"intent_key" yaml:"key"`
	Description string          `json:"description" yaml:"description"`
	Level       AutomationLevel `json:"automation_level" yaml:"level"`
	Class       ExecutionClass  `json:"execution_class,omitempty" yaml:"class"`

	// ActionKey связывает gated-интент с записью Domain Action Catalog.
	ActionKey string `json:"action_key,omitempty" yaml:"action_key"`

	ParamsSchema   json.RawMessage `json:"params_schema,omitempty" yaml:"-"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty" yaml:"-"`
}

// IsGated — true только для исполняющих интентов класса gated.
func (i Intent) IsGated() bool {
	return i.Level == LevelExecute && i.Class == ClassGated
}

// DomainAction — запись allowlist: action_key и путь политики, который его включает.
type DomainAction struct {
	ActionKey  string `json:"action_key"`
	PolicyPath string `json:"policy_path"`
}

// EventType — член закрытого перечня событий-триггеров.
type EventType string

// EventGroup — бизнес-домен, к которому относится событие.
type EventGroup string

const (
	GroupFinancialHealth      EventGroup = "financial_health"
	GroupCapacityOptimization EventGroup = "capacity_optimization"
	GroupCustomerRetention    EventGroup = "customer_retention"
	GroupGrowthMarketing      EventGroup = "growth_marketing"
	GroupSafetyCompliance     EventGroup = "safety_compliance"
	GroupWorkforceOperations  EventGroup = "workforce_operations"
	GroupOperator             EventGroup = "operator"
)
