package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/infra"
)

// HaltManager — аварийная остановка автоматизации тенанта (kill switch).
// L1 — локальная мапа, источник правды — множество в Redis, изменения приходят по pub/sub.
// Без Redis работает только в памяти процесса.
type HaltManager struct {
	mu     sync.RWMutex
	halted map[string]struct{}
	rdb    *redis.Client
	logger *zap.Logger
}

func NewHaltManager(rdb *redis.Client, logger *zap.Logger) *HaltManager {
	return &HaltManager{
		halted: make(map[string]struct{}),
		rdb:    rdb,
		logger: logger.Named("halt"),
	}
}

// Init загружает текущее состояние остановок при старте сервиса
func (m *HaltManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}
	tenants, err := m.rdb.SMembers(ctx, infra.RedisKeyHaltedTenants).Result()
	if err != nil {
		return fmt.Errorf("halt: load halted tenants: %w", err)
	}

	next := make(map[string]struct{}, len(tenants))
	for _, id := range tenants {
		next[id] = struct{}{}
	}
	m.mu.Lock()
	m.halted = next
	m.mu.Unlock()

	if len(tenants) > 0 {
		m.logger.Warn("automation halted for tenants", zap.Strings("tenant_ids", tenants))
	}
	return nil
}

// Listen подписывается на сигналы остановки. После переподключения состояние перечитывается целиком.
func (m *HaltManager) Listen(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	infra.ListenResilient(ctx, m.rdb, m.logger, infra.RedisChanHalt,
		func() error { return m.Init(ctx) },
		m.processSignal,
	)
}

// processSignal разбирает payload вида "tenant_id:on" или "tenant_id:off"
func (m *HaltManager) processSignal(payload string) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		m.logger.Warn("malformed halt signal", zap.String("payload", payload))
		return
	}
	tenantID, state := payload[:idx], payload[idx+1:]

	m.mu.Lock()
	defer m.mu.Unlock()
	switch state {
	case "on":
		m.halted[tenantID] = struct{}{}
		m.logger.Warn("automation halted", zap.String("tenant_id", tenantID))
	case "off":
		delete(m.halted, tenantID)
		m.logger.Info("automation resumed", zap.String("tenant_id", tenantID))
	default:
		m.logger.Warn("malformed halt signal", zap.String("payload", payload))
	}
}

func (m *HaltManager) IsHalted(tenantID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.halted[tenantID]
	return ok
}

// SetHalted меняет состояние в Redis и рассылает сигнал остальным инстансам.
// Вызывается из консоли.
func (m *HaltManager) SetHalted(ctx context.Context, tenantID string, halted bool) error {
	state := "off"
	if halted {
		state = "on"
	}
	if m.rdb != nil {
		pipe := m.rdb.TxPipeline()
		if halted {
			pipe.SAdd(ctx, infra.RedisKeyHaltedTenants, tenantID)
		} else {
			pipe.SRem(ctx, infra.RedisKeyHaltedTenants, tenantID)
		}
		pipe.Publish(ctx, infra.RedisChanHalt, tenantID+":"+state)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("halt: set %s=%s: %w", tenantID, state, err)
		}
	}
	m.processSignal(tenantID + ":" + state)
	return nil
}

// Halted — список остановленных тенантов (для консоли).
func (m *HaltManager) Halted() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.halted))
	for id := range m.halted {
		out = append(out, id)
	}
	return out
}
