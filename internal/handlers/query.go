package handlers

import (
	"context"

	"github.com/xela07ax/spaceai-automation/internal/store"
)

const defaultLimit = 50

func listStudents(ctx context.Context, db store.Store, params map[string]any) (any, error) {
	q := store.From(ResourceStudents).Order("created_at", true).Take(intParam(params, "limit", defaultLimit))
	if status := stringParam(params, "status"); status != "" {
		q = q.Where("status", status)
	}
	rows, err := db.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"students": rows, "count": len(rows)}, nil
}

func getStudent(ctx context.Context, db store.Store, params map[string]any) (any, error) {
	return findOne(ctx, db, ResourceStudents, "student", stringParam(params, "student_id"))
}

func listOverdueInvoices(ctx context.Context, db store.Store, params map[string]any) (any, error) {
	q := store.From(ResourceInvoices).
		Where("status", "unpaid").
		WhereOp("due_date", store.OpLt, now()).
		Order("due_date", false).
		Take(intParam(params, "limit", defaultLimit))
	rows, err := db.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"invoices": rows, "count": len(rows)}, nil
}

func findOne(ctx context.Context, db store.Store, resource, entity, id string) (store.Row, error) {
	rows, err := db.Select(ctx, store.From(resource).Where("id", id).Take(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(entity, id)
	}
	return rows[0], nil
}
