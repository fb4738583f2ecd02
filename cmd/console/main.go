// Console — отдельный процесс админки для развертывания с Postgres и Redis.
// Изменения настроек и остановки доходят до инстансов движка через Redis Pub/Sub.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/console/handler"
	"github.com/xela07ax/spaceai-automation/internal/console/server"
	"github.com/xela07ax/spaceai-automation/internal/console/service"
	"github.com/xela07ax/spaceai-automation/internal/engine"
	"github.com/xela07ax/spaceai-automation/internal/infra"
	"github.com/xela07ax/spaceai-automation/internal/infra/auth"
	"github.com/xela07ax/spaceai-automation/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Engine.Storage != "postgres" || cfg.Redis.Addr == "" {
		logger.Fatal("standalone console requires engine.storage=postgres and redis.addr; " +
			"in memory mode the console is served by the automation process")
	}

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Инициализация ресурсов
	initCtx, cancel := context.WithTimeout(appCtx, 15*time.Second)
	defer cancel()

	db, err := postgres.Open(initCtx, cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(initCtx).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.Error(err))
	}

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth: a valid RSA public key is required", zap.Error(err))
	}

	// Состояние остановок нужно консоли для /v1/automation/status
	halts := engine.NewHaltManager(rdb, logger)
	if err := halts.Init(initCtx); err != nil {
		logger.Fatal("failed to load halt state", zap.Error(err))
	}
	go halts.Listen(appCtx)

	// 2. Инициализация слоев (Dependency Injection)
	consoleSrv := server.NewConsoleServer(logger, auth.NewBaseValidator(pubKey),
		handler.NewSettingsHandler(service.NewSettingsService(postgres.NewSettingsRepo(db), rdb, nil, logger)),
		handler.NewHaltHandler(service.NewHaltService(halts, logger)),
		handler.NewAuditHandler(service.NewAuditService(postgres.NewAuditRepo(db))),
	)

	// 3. Запуск сервера
	srv := &http.Server{
		Addr:         cfg.Console.Addr(),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Console.ReadTimeout,
		WriteTimeout: cfg.Console.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("console server failed", zap.Error(err))
			stop()
		}
	}()

	<-appCtx.Done()
	logger.Info("console API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
}
