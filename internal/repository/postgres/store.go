package postgres

/*
Файл store.go реализует store.Store поверх Postgres.

Имена ресурсов и колонок никогда не подставляются в SQL как есть: они сверяются
со схемой-allowlist. Значения идут только через плейсхолдеры $n.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xela07ax/spaceai-automation/internal/store"
)

const uniqueViolation = "23505"

// Schema — разрешенные ресурсы и их колонки.
type Schema map[string][]string

// DefaultSchema совпадает с таблицами из schema.sql.
func DefaultSchema() Schema {
	return Schema{
		"students": {"id", "tenant_id", "name", "phone", "email", "guardian_name", "course_id",
			"status", "deactivation_reason", "source_event_id", "created_at", "updated_at"},
		"invoices":  {"id", "tenant_id", "student_id", "amount", "due_date", "status", "created_at", "updated_at"},
		"tasks":     {"id", "tenant_id", "title", "status", "completed_at", "created_at", "updated_at"},
		"reminders": {"id", "tenant_id", "invoice_id", "channel", "status", "source_event_id", "created_at"},
	}
}

type Store struct {
	db     *sql.DB
	tables map[string]map[string]bool
}

func NewStore(db *sql.DB, schema Schema) *Store {
	tables := make(map[string]map[string]bool, len(schema))
	for resource, cols := range schema {
		set := make(map[string]bool, len(cols))
		for _, c := range cols {
			set[c] = true
		}
		tables[resource] = set
	}
	return &Store{db: db, tables: tables}
}

func (s *Store) columns(resource string) (map[string]bool, error) {
	cols, ok := s.tables[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownResource, resource)
	}
	return cols, nil
}

func checkColumn(cols map[string]bool, resource, col string) error {
	if !cols[col] {
		return fmt.Errorf("%w: %s.%s", store.ErrInvalidColumn, resource, col)
	}
	return nil
}

// where собирает WHERE с плейсхолдерами начиная с $start.
func where(cols map[string]bool, q store.Query, start int) (string, []any, error) {
	if len(q.Filters) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(q.Filters))
	args := make([]any, 0, len(q.Filters))
	for i, f := range q.Filters {
		if err := checkColumn(cols, q.Resource, f.Column); err != nil {
			return "", nil, err
		}
		op := f.Op
		switch op {
		case "":
			op = store.OpEq
		case store.OpEq, store.OpNeq, store.OpLt, store.OpLte, store.OpGt, store.OpGte:
		default:
			return "", nil, fmt.Errorf("postgres: unsupported operator %q", f.Op)
		}
		parts = append(parts, fmt.Sprintf("%s %s $%d", f.Column, op, start+i))
		args = append(args, f.Value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	cols, err := s.columns(q.Resource)
	if err != nil {
		return nil, err
	}
	cond, args, err := where(cols, q, 1)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(q.Resource)
	sb.WriteString(cond)
	if q.OrderBy != "" {
		if err := checkColumn(cols, q.Resource, q.OrderBy); err != nil {
			return nil, err
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.OrderBy)
		if q.Desc {
			sb.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: select %s: %w", q.Resource, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *Store) Insert(ctx context.Context, resource string, row store.Row) (store.Row, error) {
	cols, err := s.columns(resource)
	if err != nil {
		return nil, err
	}

	values := make(store.Row, len(row)+2)
	for k, v := range row {
		values[k] = v
	}
	if _, ok := values["id"]; !ok {
		values["id"] = uuid.New().String()
	}
	if _, ok := values["created_at"]; !ok {
		values["created_at"] = time.Now().UTC()
	}

	names := make([]string, 0, len(values))
	for k := range values {
		if err := checkColumn(cols, resource, k); err != nil {
			return nil, err
		}
		names = append(names, k)
	}
	sort.Strings(names)

	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if args[i], err = encode(values[n]); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		resource, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert %s: %w", resource, mapErr(err))
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert %s: %w", resource, mapErr(err))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("postgres: insert %s returned no row", resource)
	}
	return out[0], nil
}

func (s *Store) Update(ctx context.Context, q store.Query, patch store.Row) (int64, error) {
	cols, err := s.columns(q.Resource)
	if err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, nil
	}

	names := make([]string, 0, len(patch))
	for k := range patch {
		if err := checkColumn(cols, q.Resource, k); err != nil {
			return 0, err
		}
		names = append(names, k)
	}
	sort.Strings(names)

	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+len(q.Filters))
	for i, n := range names {
		sets[i] = fmt.Sprintf("%s = $%d", n, i+1)
		v, err := encode(patch[n])
		if err != nil {
			return 0, err
		}
		args = append(args, v)
	}
	cond, condArgs, err := where(cols, q, len(names)+1)
	if err != nil {
		return 0, err
	}
	args = append(args, condArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", q.Resource, strings.Join(sets, ", "), cond)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: update %s: %w", q.Resource, mapErr(err))
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, q store.Query) (int64, error) {
	cols, err := s.columns(q.Resource)
	if err != nil {
		return 0, err
	}
	cond, args, err := where(cols, q, 1)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+q.Resource+cond, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %s: %w", q.Resource, err)
	}
	return res.RowsAffected()
}

// encode переводит вложенные структуры в jsonb.
func encode(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, store.Row:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("postgres: encode jsonb: %w", err)
		}
		return b, nil
	}
	return v, nil
}

func scanRows(rows *sql.Rows) ([]store.Row, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]store.Row, 0)
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(names))
		for i, n := range names {
			if b, ok := vals[i].([]byte); ok {
				row[n] = string(b)
				continue
			}
			row[n] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
