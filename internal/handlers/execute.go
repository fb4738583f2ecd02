package handlers

import (
	"context"
	"fmt"

	"github.com/xela07ax/spaceai-automation/internal/engine"
	"github.com/xela07ax/spaceai-automation/internal/identity"
	"github.com/xela07ax/spaceai-automation/internal/store"
)

func completeTask(ctx context.Context, db store.Store, params map[string]any) (engine.Mutation, error) {
	taskID := stringParam(params, "task_id")
	m := engine.Mutation{EntityType: "task", EntityID: taskID}

	at := now()
	n, err := db.Update(ctx,
		store.From(ResourceTasks).Where("id", taskID).WhereOp("status", store.OpNeq, "completed"),
		store.Row{"status": "completed", "completed_at": at, "updated_at": at})
	if err != nil {
		return m, err
	}
	if n == 0 {
		// Уже закрытая задача — не ошибка, повтор безопасен
		if _, err := findOne(ctx, db, ResourceTasks, "task", taskID); err != nil {
			return m, err
		}
		m.Summary = "task already completed"
		return m, nil
	}
	m.Summary = "task completed"
	m.Data = map[string]any{"task_id": taskID, "status": "completed"}
	return m, nil
}

func registerStudent(ctx context.Context, db store.Store, params map[string]any) (engine.Mutation, error) {
	row := store.Row{
		"tenant_id": identity.TenantID(ctx),
		"name":      stringParam(params, "name"),
		"status":    "active",
	}
	for _, k := range []string{"phone", "email", "guardian_name", "course_id"} {
		if v := stringParam(params, k); v != "" {
			row[k] = v
		}
	}

	created, err := db.Insert(ctx, ResourceStudents, row)
	if err != nil {
		return engine.Mutation{EntityType: "student"}, fmt.Errorf("register student: %w", err)
	}
	id := fmt.Sprint(created["id"])
	return engine.Mutation{
		EntityType: "student",
		EntityID:   id,
		Summary:    "student registered",
		Data:       map[string]any{"student_id": id, "status": "active"},
	}, nil
}

func deactivateStudent(ctx context.Context, db store.Store, params map[string]any) (engine.Mutation, error) {
	studentID := stringParam(params, "student_id")
	m := engine.Mutation{EntityType: "student", EntityID: studentID}

	patch := store.Row{"status": "inactive", "updated_at": now()}
	if reason := stringParam(params, "reason"); reason != "" {
		patch["deactivation_reason"] = reason
	}
	n, err := db.Update(ctx, store.From(ResourceStudents).Where("id", studentID).Where("status", "active"), patch)
	if err != nil {
		return m, err
	}
	if n == 0 {
		return m, notFound("active student", studentID)
	}
	m.Summary = "student deactivated"
	m.Data = map[string]any{"student_id": studentID, "status": "inactive"}
	return m, nil
}

func sendInvoiceReminder(ctx context.Context, db store.Store, params map[string]any) (engine.Mutation, error) {
	invoiceID := stringParam(params, "invoice_id")
	m := engine.Mutation{EntityType: "reminder"}

	invoice, err := findOne(ctx, db, ResourceInvoices, "invoice", invoiceID)
	if err != nil {
		return m, err
	}
	if status, _ := invoice["status"].(string); status != "unpaid" {
		return m, fmt.Errorf("invoice %s is %s, reminder not needed", invoiceID, status)
	}

	channel := stringParam(params, "channel")
	if channel == "" {
		channel = "sms"
	}
	created, err := db.Insert(ctx, ResourceReminders, store.Row{
		"tenant_id":  identity.TenantID(ctx),
		"invoice_id": invoiceID,
		"channel":    channel,
		"status":     "queued",
	})
	if err != nil {
		return m, fmt.Errorf("queue reminder: %w", err)
	}
	m.EntityID = fmt.Sprint(created["id"])
	m.Summary = "payment reminder queued via " + channel
	m.Data = map[string]any{"reminder_id": m.EntityID, "invoice_id": invoiceID, "channel": channel}
	return m, nil
}
