// Package store описывает обобщенный примитив запросов и мутаций над именованными ресурсами.
// Транспорт и движок хранения скрыты за интерфейсом Store.
package store

import (
	"context"
	"errors"
)

var (
	ErrUnknownResource = errors.New("store: unknown resource")
	ErrInvalidColumn   = errors.New("store: invalid column name")
	ErrConflict        = errors.New("store: unique constraint violation")
)

type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "<>"
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Filter — предикат вида column <op> value.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Row — строка ресурса.
type Row map[string]any

// Query — построитель запроса. Методы возвращают копию, исходный Query не меняется.
type Query struct {
	Resource string
	Filters  []Filter
	OrderBy  string
	Desc     bool
	Limit    int
}

func From(resource string) Query {
	return Query{Resource: resource}
}

func (q Query) Where(column string, value any) Query {
	return q.WhereOp(column, OpEq, value)
}

func (q Query) WhereOp(column string, op Op, value any) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Column: column, Op: op, Value: value})
	return q
}

func (q Query) Order(column string, desc bool) Query {
	q.OrderBy = column
	q.Desc = desc
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// HasEq проверяет наличие предиката равенства column = value.
func (q Query) HasEq(column string, value any) bool {
	for _, f := range q.Filters {
		if f.Column == column && f.Op == OpEq && f.Value == value {
			return true
		}
	}
	return false
}

// Store — примитив get/insert/update/delete. Область тенанта навязывается выше, в tenantguard.
type Store interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, resource string, row Row) (Row, error)
	Update(ctx context.Context, q Query, patch Row) (int64, error)
	Delete(ctx context.Context, q Query) (int64, error)
}
