// Package handlers — обработчики интентов для учебного центра: ученики, счета, задачи, напоминания.
// Все обращения к данным идут через переданный store.Store, который уже ограничен тенантом.
package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-automation/internal/engine"
)

const (
	ResourceStudents  = "students"
	ResourceInvoices  = "invoices"
	ResourceTasks     = "tasks"
	ResourceReminders = "reminders"
)

var ErrNotFound = engine.ErrNotFound

// Resources — ресурсы, с которыми работают обработчики.
func Resources() []string {
	return []string{ResourceStudents, ResourceInvoices, ResourceTasks, ResourceReminders}
}

// Routes — таблица обработчиков по уровням. Сверяется с реестром в engine.New.
func Routes() engine.Routes {
	return engine.Routes{
		Queries: []engine.QueryRoute{
			{IntentKey: "students.list", Handle: listStudents},
			{IntentKey: "students.get", Handle: getStudent},
			{IntentKey: "invoices.overdue.list", Handle: listOverdueInvoices},
		},
		Drafts: []engine.DraftRoute{
			{IntentKey: "retention.outreach.draft", Handle: draftRetentionOutreach},
			{IntentKey: "capacity.schedule.draft", Handle: draftCapacitySchedule},
		},
		Executes: []engine.ExecuteRoute{
			{IntentKey: "tasks.complete", Handle: completeTask},
			{IntentKey: "student.register", Handle: registerStudent},
			{IntentKey: "student.deactivate", Handle: deactivateStudent},
			{IntentKey: "invoice.reminder.send", Handle: sendInvoiceReminder},
		},
	}
}

var now = func() time.Time { return time.Now().UTC() }

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// intParam понимает числа из JSON (float64, json.Number) и из конфигурации (int).
func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}
