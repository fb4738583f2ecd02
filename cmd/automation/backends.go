package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/audit"
	"github.com/xela07ax/spaceai-automation/internal/console/service"
	"github.com/xela07ax/spaceai-automation/internal/handlers"
	"github.com/xela07ax/spaceai-automation/internal/idempotency"
	"github.com/xela07ax/spaceai-automation/internal/infra"
	"github.com/xela07ax/spaceai-automation/internal/policy"
	"github.com/xela07ax/spaceai-automation/internal/repository/postgres"
	"github.com/xela07ax/spaceai-automation/internal/store"
)

// auditBackend — журнал пишется Writer'ом и читается консолью.
type auditBackend interface {
	audit.StorageInterface
	service.AuditLogProvider
}

type backends struct {
	store    store.Store
	settings service.SettingsStore
	audit    auditBackend
	dedup    idempotency.Store
	db       *sql.DB
}

func (b *backends) Close() {
	if b.db != nil {
		_ = b.db.Close()
	}
}

// openBackends выбирает реализации хранилищ по секции engine.
func openBackends(ctx context.Context, cfg *infra.Config, rdb *redis.Client, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.Engine.Storage {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		b.db = db
		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				b.Close()
				return nil, err
			}
		}
		b.store = postgres.NewStore(db, postgres.DefaultSchema())
		b.settings = postgres.NewSettingsRepo(db)
		b.audit = postgres.NewAuditRepo(db)
		logger.Info("storage: postgres")
	default:
		b.store = store.NewMemoryStore(handlers.Resources()...)
		b.settings = policy.NewMemorySettings()
		b.audit = audit.NewMemoryStorage()
		logger.Warn("storage: memory, state is lost on restart")
	}

	switch cfg.Engine.Dedup {
	case "redis":
		b.dedup = idempotency.NewRedisStore(rdb, cfg.Engine.DedupTTL)
	case "postgres":
		b.dedup = postgres.NewDedupRepo(b.db, cfg.Engine.DedupTTL)
	case "memory":
		b.dedup = idempotency.NewMemoryStore(cfg.Engine.DedupTTL)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Engine.Dedup)
	}
	logger.Info("dedup backend selected", zap.String("dedup", cfg.Engine.Dedup), zap.Duration("ttl", cfg.Engine.DedupTTL))

	return b, nil
}

// openRedis — nil без redis.addr: сигналы остаются внутри процесса.
func openRedis(ctx context.Context, cfg infra.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
