package domain

import "fmt"

// RefusalCode — причина, по которой ничего не было выполнено.
// Отказ — это заявление политики, а не инцидент.
type RefusalCode string

const (
	RefusalUnknownIntent        RefusalCode = "UnknownIntent"
	RefusalUnknownEventType     RefusalCode = "UnknownEventType"
	RefusalPolicyDisabled       RefusalCode = "PolicyDisabled"
	RefusalCatalogActionMissing RefusalCode = "CatalogActionMissing"
	RefusalInvalidParams        RefusalCode = "InvalidParams"
	RefusalTenantMissing        RefusalCode = "TenantContextMissing"
	RefusalTenantMismatch       RefusalCode = "TenantMismatch"
	RefusalAutomationHalted     RefusalCode = "AutomationHalted"
)

// Refusal — структурированный отказ. Возвращается до любых побочных эффектов.
type Refusal struct {
	Code   RefusalCode `json:"code"`
	Reason string      `json:"reason"`
}

func NewRefusal(code RefusalCode, format string, args ...any) *Refusal {
	return &Refusal{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("refused (%s): %s", r.Code, r.Reason)
}
