package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-automation/internal/domain"
)

const auditColumns = "id, tenant_id, occurred_at, operation_type, status, source, actor_type, actor_id, " +
	"summary, details, entity_type, entity_id, source_event_id, duration_ms, error_code, error_summary"

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) WriteBatch(ctx context.Context, records []domain.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в таблице automation_audit_log
	const numFields = 16
	var sb strings.Builder
	vals := make([]any, 0, len(records)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 1; j <= numFields; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*numFields+j)
		}
		sb.WriteString(")")

		var details []byte
		if rec.Details != nil {
			var err error
			if details, err = json.Marshal(rec.Details); err != nil {
				return fmt.Errorf("postgres: encode audit details: %w", err)
			}
		}

		vals = append(vals,
			rec.ID, rec.TenantID, rec.OccurredAt, rec.OperationType, string(rec.Status),
			rec.Source, rec.ActorType, rec.ActorID, rec.Summary, details,
			rec.Reference.EntityType, rec.Reference.EntityID, rec.Reference.SourceEventID,
			rec.DurationMs, rec.ErrorCode, rec.ErrorSummary,
		)
	}

	query := "INSERT INTO automation_audit_log (" + auditColumns + ") VALUES " + sb.String()
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}

// FetchLogs — выборка журнала тенанта для консоли, новые записи первыми.
func (r *AuditRepo) FetchLogs(ctx context.Context, f domain.AuditFilter) ([]domain.AuditRecord, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	if f.OperationType != "" {
		args = append(args, f.OperationType)
		conds = append(conds, fmt.Sprintf("operation_type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf("SELECT %s FROM automation_audit_log WHERE %s ORDER BY occurred_at DESC LIMIT $%d",
		auditColumns, strings.Join(conds, " AND "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch audit: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var (
			rec                        domain.AuditRecord
			status                     string
			source, actorType, actorID sql.NullString
			errCode, errSummary        sql.NullString
			details                    []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.OccurredAt, &rec.OperationType, &status,
			&source, &actorType, &actorID, &rec.Summary, &details,
			&rec.Reference.EntityType, &rec.Reference.EntityID, &rec.Reference.SourceEventID,
			&rec.DurationMs, &errCode, &errSummary); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		rec.Status = domain.AuditStatus(status)
		rec.Source, rec.ActorType, rec.ActorID = source.String, actorType.String, actorID.String
		rec.ErrorCode, rec.ErrorSummary = errCode.String, errSummary.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("postgres: decode audit details: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
