// Package policy — fail-closed доступ к настройкам тенанта по точечному пути.
//
// Отсутствие настройки всегда означает "выключено". Сбой хранилища логируется
// и тоже превращается в "отсутствует", чтобы инфраструктурный сбой не стал сигналом включения.
package policy

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// SettingsRepository — источник документов настроек. (nil, nil) — у тенанта нет документа.
type SettingsRepository interface {
	GetSettings(ctx context.Context, tenantID string) (map[string]any, error)
}

type cachedDoc struct {
	doc       map[string]any
	fetchedAt time.Time
}

// Accessor читает настройки через circuit breaker и держит L1-кэш документов.
// Кэш инвалидируется по сигналу из Redis (см. Listen) или по TTL.
type Accessor struct {
	repo   SettingsRepository
	cb     *gobreaker.CircuitBreaker
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]cachedDoc
	now   func() time.Time
}

type Option func(*Accessor)

// WithCacheTTL задает TTL L1-кэша. 0 отключает кэш.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Accessor) { a.ttl = ttl }
}

// WithBreaker подменяет настройки предохранителя.
func WithBreaker(st gobreaker.Settings) Option {
	return func(a *Accessor) { a.cb = gobreaker.NewCircuitBreaker(st) }
}

func NewAccessor(repo SettingsRepository, logger *zap.Logger, opts ...Option) *Accessor {
	a := &Accessor{
		repo:   repo,
		logger: logger.Named("policy"),
		cache:  make(map[string]cachedDoc),
		now:    time.Now,
	}
	a.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "policy-settings",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetSetting возвращает значение настройки. ok=false — настройки нет (или хранилище недоступно).
func (a *Accessor) GetSetting(ctx context.Context, tenantID, key string) (any, bool) {
	doc, ok := a.document(ctx, tenantID, false)
	if !ok {
		return nil, false
	}
	return Resolve(doc, key)
}

// GetSettingFresh читает в обход L1-кэша. Используется для повторной проверки перед мутацией.
func (a *Accessor) GetSettingFresh(ctx context.Context, tenantID, key string) (any, bool) {
	doc, ok := a.document(ctx, tenantID, true)
	if !ok {
		return nil, false
	}
	return Resolve(doc, key)
}

// IsEnabled — true только для сохраненного булевого true.
func (a *Accessor) IsEnabled(ctx context.Context, tenantID, path string) bool {
	v, ok := a.GetSetting(ctx, tenantID, path)
	return ok && isTrue(v)
}

// IsEnabledFresh — IsEnabled без кэша.
func (a *Accessor) IsEnabledFresh(ctx context.Context, tenantID, path string) bool {
	v, ok := a.GetSettingFresh(ctx, tenantID, path)
	return ok && isTrue(v)
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// Invalidate сбрасывает кэш тенанта; пустой tenantID сбрасывает весь кэш.
func (a *Accessor) Invalidate(tenantID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tenantID == "" {
		a.cache = make(map[string]cachedDoc)
		return
	}
	delete(a.cache, tenantID)
}

func (a *Accessor) document(ctx context.Context, tenantID string, fresh bool) (map[string]any, bool) {
	if tenantID == "" {
		return nil, false
	}

	if !fresh && a.ttl > 0 {
		a.mu.RLock()
		c, hit := a.cache[tenantID]
		a.mu.RUnlock()
		if hit && a.now().Sub(c.fetchedAt) < a.ttl {
			return c.doc, c.doc != nil
		}
	}

	res, err := a.cb.Execute(func() (interface{}, error) {
		return a.repo.GetSettings(ctx, tenantID)
	})
	if err != nil {
		// Не пробрасываем: недоступность хранилища трактуется как "настройки нет"
		a.logger.Error("settings lookup failed, treating as absent",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, false
	}

	doc, _ := res.(map[string]any)
	if a.ttl > 0 {
		a.mu.Lock()
		a.cache[tenantID] = cachedDoc{doc: doc, fetchedAt: a.now()}
		a.mu.Unlock()
	}
	return doc, doc != nil
}
