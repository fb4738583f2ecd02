package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/store"
)

var ErrReadOnly = errors.New("engine: mutation attempted by a read-only handler")

// ErrNotFound — обработчик чтения не нашел сущность у тенанта. Это ответ, а не инцидент.
var ErrNotFound = errors.New("engine: entity not found")

// QueryHandler читает данные тенанта. Получает хранилище только на чтение.
type QueryHandler func(ctx context.Context, db store.Store, params map[string]any) (any, error)

// DraftHandler строит предложение. Хранилище тоже только на чтение.
// ID, тенант, ключ интента и время заполняет диспетчер.
type DraftHandler func(ctx context.Context, db store.Store, params map[string]any) (domain.Draft, error)

// Mutation — итог исполняющего обработчика: что изменено и краткое описание для аудита.
type Mutation struct {
	EntityType string
	EntityID   string
	Summary    string
	Data       any
}

// ExecuteHandler меняет состояние тенанта через tenantguard.
type ExecuteHandler func(ctx context.Context, db store.Store, params map[string]any) (Mutation, error)

type QueryRoute struct {
	IntentKey string
	Handle    QueryHandler
}

type DraftRoute struct {
	IntentKey string
	Handle    DraftHandler
}

type ExecuteRoute struct {
	IntentKey string
	Handle    ExecuteHandler
}

// Routes — явные таблицы обработчиков по уровням. Сверяются с реестром в New.
type Routes struct {
	Queries  []QueryRoute
	Drafts   []DraftRoute
	Executes []ExecuteRoute
}

// readOnly запрещает мутации обработчикам query и draft.
type readOnly struct {
	next store.Store
}

func (r readOnly) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	return r.next.Select(ctx, q)
}

func (r readOnly) Insert(ctx context.Context, resource string, row store.Row) (store.Row, error) {
	return nil, fmt.Errorf("%w: insert %s", ErrReadOnly, resource)
}

func (r readOnly) Update(ctx context.Context, q store.Query, patch store.Row) (int64, error) {
	return 0, fmt.Errorf("%w: update %s", ErrReadOnly, q.Resource)
}

func (r readOnly) Delete(ctx context.Context, q store.Query) (int64, error) {
	return 0, fmt.Errorf("%w: delete %s", ErrReadOnly, q.Resource)
}
