// Package idempotency хранит отпечатки уже принятых мутаций.
// Отпечаток захватывается до мутации и освобождается, если мутация не удалась.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/spaceai-automation/internal/infra"
)

// Store — атомарный захват отпечатка. Claim возвращает true ровно одному из
// конкурентных вызовов с одинаковым (tenant, fingerprint).
type Store interface {
	Claim(ctx context.Context, tenantID, fingerprint string) (bool, error)
	Release(ctx context.Context, tenantID, fingerprint string) error
}

const DefaultTTL = 24 * time.Hour

// RedisStore — захват через SET NX с TTL окна дедупликации.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, tenantID, fingerprint string) (bool, error) {
	return s.rdb.SetNX(ctx, infra.DedupKey(tenantID, fingerprint), time.Now().UTC().Unix(), s.ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, tenantID, fingerprint string) error {
	return s.rdb.Del(ctx, infra.DedupKey(tenantID, fingerprint)).Err()
}

// MemoryStore — реализация для одного процесса (локальный режим, тесты).
type MemoryStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, claims: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) Claim(ctx context.Context, tenantID, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantID + ":" + fingerprint
	now := s.now()
	if at, ok := s.claims[key]; ok && now.Sub(at) < s.ttl {
		return false, nil
	}
	s.claims[key] = now
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, tenantID, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, tenantID+":"+fingerprint)
	return nil
}
