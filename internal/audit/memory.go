package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/xela07ax/spaceai-automation/internal/domain"
)

// MemoryStorage — хранилище журнала в памяти для локального режима и тестов.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) WriteBatch(ctx context.Context, records []domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

// FetchLogs возвращает записи тенанта, новые первыми.
func (m *MemoryStorage) FetchLogs(ctx context.Context, f domain.AuditFilter) ([]domain.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.AuditRecord, 0)
	for _, r := range m.records {
		if r.TenantID != f.TenantID {
			continue
		}
		if f.OperationType != "" && r.OperationType != f.OperationType {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Records возвращает копию всех записей.
func (m *MemoryStorage) Records() []domain.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}
