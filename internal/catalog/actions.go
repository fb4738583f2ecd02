// Package catalog содержит статические allowlist'ы: Domain Action Catalog и перечень событий-триггеров.
// Оба строятся один раз при старте и доступны только через функции поиска.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/spaceai-automation/internal/domain"
)

// PolicyPathFor — каноничный путь настройки, включающий доменное действие.
func PolicyPathFor(actionKey string) string {
	return "domain_action." + actionKey + ".enabled"
}

// ActionCatalog — неизменяемый набор action_key -> policy_path.
type ActionCatalog struct {
	entries map[string]domain.DomainAction
}

// NewActionCatalog строит каталог. Дубликаты и пустые ключи — ошибка конфигурации.
func NewActionCatalog(entries ...domain.DomainAction) (*ActionCatalog, error) {
	c := &ActionCatalog{entries: make(map[string]domain.DomainAction, len(entries))}
	for _, e := range entries {
		if e.ActionKey == "" || e.PolicyPath == "" {
			return nil, fmt.Errorf("catalog: action_key and policy_path are required (%q)", e.ActionKey)
		}
		if _, dup := c.entries[e.ActionKey]; dup {
			return nil, fmt.Errorf("catalog: duplicate action_key %q", e.ActionKey)
		}
		c.entries[e.ActionKey] = e
	}
	return c, nil
}

// Lookup — единственный способ прочитать каталог.
func (c *ActionCatalog) Lookup(actionKey string) (domain.DomainAction, bool) {
	if c == nil {
		return domain.DomainAction{}, false
	}
	e, ok := c.entries[actionKey]
	return e, ok
}

// Keys возвращает отсортированный список action_key (для консоли и логов).
func (c *ActionCatalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func action(key string) domain.DomainAction {
	return domain.DomainAction{ActionKey: key, PolicyPath: PolicyPathFor(key)}
}

// DefaultActions — единый источник правды для доменных действий, доступных gated-интентам.
var DefaultActions = sync.OnceValue(func() *ActionCatalog {
	c, err := NewActionCatalog(
		action("student.register"),
		action("student.deactivate"),
		action("invoice.reminder.send"),
	)
	if err != nil {
		panic(err)
	}
	return c
})
