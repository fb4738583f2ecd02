package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemorySettings — хранилище документов настроек в памяти процесса.
// Используется при storage=memory и в тестах.
type MemorySettings struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{docs: make(map[string]map[string]any)}
}

// GetSettings отдает копию, чтобы вызывающий не мог изменить хранимый документ.
func (m *MemorySettings) GetSettings(_ context.Context, tenantID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[tenantID]
	if !ok {
		return map[string]any{}, nil
	}
	return cloneDoc(doc)
}

func (m *MemorySettings) UpsertSetting(_ context.Context, tenantID, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := Assign(m.docs[tenantID], path, value)
	if err != nil {
		return err
	}
	m.docs[tenantID] = doc
	return nil
}

func (m *MemorySettings) DeleteSetting(_ context.Context, tenantID, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[tenantID]
	if !ok {
		return false, nil
	}
	return Remove(doc, path), nil
}

func cloneDoc(doc map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("policy: clone settings: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("policy: clone settings: %w", err)
	}
	return out, nil
}
