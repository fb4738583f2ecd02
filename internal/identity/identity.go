// Package identity хранит амбиентный контекст тенанта, который выставляет внешний слой аутентификации.
package identity

import (
	"context"
	"strings"
)

// Identity — кто и в рамках какого тенанта выполняет операцию.
type Identity struct {
	TenantID     string
	IndustryType string
}

type ctxKey struct{}

// With кладет Identity в контекст.
func With(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext возвращает Identity. ok=false, если тенант не задан:
// вызывающий код обязан отказать, а не расширять область до всех тенантов.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || strings.TrimSpace(id.TenantID) == "" {
		return Identity{}, false
	}
	return id, true
}

// TenantID возвращает tenant_id из контекста или "".
func TenantID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.TenantID
}
