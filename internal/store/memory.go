package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore — in-memory реализация Store для локального запуска и тестов.
// Поддерживает уникальные ключи, чтобы повторить поведение ограничений БД.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
	unique map[string][][]string // resource -> наборы колонок
	writes int64
}

func NewMemoryStore(resources ...string) *MemoryStore {
	m := &MemoryStore{
		tables: make(map[string][]Row),
		unique: make(map[string][][]string),
	}
	for _, r := range resources {
		m.tables[r] = nil
	}
	return m
}

// WithUnique регистрирует уникальный ключ на наборе колонок.
func (m *MemoryStore) WithUnique(resource string, columns ...string) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unique[resource] = append(m.unique[resource], columns)
	return m
}

// Writes — число успешных мутаций (insert/update/delete). Нужно тестам.
func (m *MemoryStore) Writes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) Select(ctx context.Context, q Query) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, ok := m.tables[q.Resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, q.Resource)
	}

	out := make([]Row, 0)
	for _, r := range rows {
		if matches(r, q.Filters) {
			out = append(out, copyRow(r))
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Insert(ctx context.Context, resource string, row Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	stored := copyRow(row)
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.New().String()
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = time.Now().UTC()
	}

	for _, cols := range m.unique[resource] {
		for _, existing := range rows {
			if sameOn(existing, stored, cols) {
				return nil, fmt.Errorf("%w: %s(%s)", ErrConflict, resource, strings.Join(cols, ","))
			}
		}
	}

	m.tables[resource] = append(rows, stored)
	m.writes++
	return copyRow(stored), nil
}

func (m *MemoryStore) Update(ctx context.Context, q Query, patch Row) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[q.Resource]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownResource, q.Resource)
	}
	var n int64
	for _, r := range rows {
		if !matches(r, q.Filters) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		n++
	}
	if n > 0 {
		m.writes++
	}
	return n, nil
}

func (m *MemoryStore) Delete(ctx context.Context, q Query) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[q.Resource]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownResource, q.Resource)
	}
	kept := rows[:0]
	var n int64
	for _, r := range rows {
		if matches(r, q.Filters) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.tables[q.Resource] = kept
	if n > 0 {
		m.writes++
	}
	return n, nil
}

func matches(r Row, filters []Filter) bool {
	for _, f := range filters {
		v, ok := r[f.Column]
		if !ok {
			return false
		}
		c := compare(v, f.Value)
		switch f.Op {
		case OpEq, "":
			if c != 0 {
				return false
			}
		case OpNeq:
			if c == 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compare сравнивает числа, время и строки; остальное — через DeepEqual.
func compare(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb)
		}
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func sameOn(a, b Row, cols []string) bool {
	for _, c := range cols {
		if compare(a[c], b[c]) != 0 {
			return false
		}
	}
	return true
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
