// Package tenantguard — единственная точка, через которую проходят все tenant-scoped запросы.
//
// Чтение, обновление и удаление получают обязательный предикат tenant_id = <тенант из контекста>.
// Вставка фильтра не получает: tenant_id обязан быть в самой строке, иначе ошибка.
// Так пропущенный тенант на записи не маскируется фильтром, который просто вернул бы ноль строк.
package tenantguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/spaceai-automation/internal/identity"
	"github.com/xela07ax/spaceai-automation/internal/store"
)

const Column = "tenant_id"

var (
	ErrNoTenant       = errors.New("tenantguard: tenant identity missing from context")
	ErrInsertTenant   = errors.New("tenantguard: insert row must carry tenant_id")
	ErrTenantMismatch = errors.New("tenantguard: row tenant_id does not match context tenant")
)

// Scope добавляет к запросу равенство по tenant_id из амбиентного контекста.
func Scope(ctx context.Context, q store.Query) (store.Query, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return q, ErrNoTenant
	}
	return q.Where(Column, id.TenantID), nil
}

// CheckInsert проверяет, что строка несет tenant_id текущего тенанта.
func CheckInsert(ctx context.Context, row store.Row) error {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return ErrNoTenant
	}
	raw, present := row[Column]
	if !present || raw == nil || raw == "" {
		return ErrInsertTenant
	}
	if tenant, _ := raw.(string); tenant != id.TenantID {
		return fmt.Errorf("%w: row=%v ctx=%s", ErrTenantMismatch, raw, id.TenantID)
	}
	return nil
}

// Store — обертка над store.Store, которую получают обработчики интентов.
// Прямого доступа к нижележащему хранилищу у обработчиков нет.
type Store struct {
	next store.Store
}

func Wrap(next store.Store) *Store {
	return &Store{next: next}
}

func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	scoped, err := Scope(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.next.Select(ctx, scoped)
}

func (s *Store) Insert(ctx context.Context, resource string, row store.Row) (store.Row, error) {
	if err := CheckInsert(ctx, row); err != nil {
		return nil, err
	}
	return s.next.Insert(ctx, resource, row)
}

func (s *Store) Update(ctx context.Context, q store.Query, patch store.Row) (int64, error) {
	scoped, err := Scope(ctx, q)
	if err != nil {
		return 0, err
	}
	// Перенос строки в другой тенант через patch запрещен
	if v, ok := patch[Column]; ok && v != identity.TenantID(ctx) {
		return 0, ErrTenantMismatch
	}
	return s.next.Update(ctx, scoped, patch)
}

func (s *Store) Delete(ctx context.Context, q store.Query) (int64, error) {
	scoped, err := Scope(ctx, q)
	if err != nil {
		return 0, err
	}
	return s.next.Delete(ctx, scoped)
}

var _ store.Store = (*Store)(nil)
