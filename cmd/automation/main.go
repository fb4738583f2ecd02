package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/audit"
	"github.com/xela07ax/spaceai-automation/internal/catalog"
	"github.com/xela07ax/spaceai-automation/internal/console/handler"
	"github.com/xela07ax/spaceai-automation/internal/console/server"
	"github.com/xela07ax/spaceai-automation/internal/console/service"
	"github.com/xela07ax/spaceai-automation/internal/engine"
	"github.com/xela07ax/spaceai-automation/internal/handlers"
	"github.com/xela07ax/spaceai-automation/internal/infra"
	"github.com/xela07ax/spaceai-automation/internal/infra/auth"
	"github.com/xela07ax/spaceai-automation/internal/intent"
	"github.com/xela07ax/spaceai-automation/internal/metrics"
	"github.com/xela07ax/spaceai-automation/internal/policy"
	"github.com/xela07ax/spaceai-automation/internal/trigger"
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("automation engine failed", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизненного цикла: SIGTERM остановит слушателей и серверы
	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура
	initCtx, cancelInit := context.WithTimeout(appCtx, 15*time.Second)
	defer cancelInit()

	rdb, err := openRedis(initCtx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn("redis disabled: policy invalidation and halt signals stay in-process")
	}

	b, err := openBackends(initCtx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return errors.New("auth: a valid RSA public key is required (auth.public_key_path or AUTH_PUBLIC_KEY_DATA)")
	}
	validator := auth.NewBaseValidator(pubKey)

	// Метрики
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// 2. Control Plane: политики и остановка автоматизации
	breakerFailures := cfg.Policy.BreakerFailures
	accessor := policy.NewAccessor(b.settings, logger,
		policy.WithCacheTTL(cfg.Policy.CacheTTL),
		policy.WithBreaker(gobreaker.Settings{
			Name:    "policy-settings",
			Timeout: cfg.Policy.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
	)

	halts := engine.NewHaltManager(rdb, logger)
	if err := halts.Init(initCtx); err != nil {
		return err
	}
	if rdb != nil {
		go accessor.Listen(appCtx, rdb)
		go halts.Listen(appCtx)
	}

	// 3. Аудит: асинхронная запись пачками
	writer := audit.NewWriter(b.audit, audit.WriterConfig{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		WriteAttempts: cfg.Audit.WriteAttempts,
		WriteTimeout:  cfg.Audit.WriteTimeout,
	}, logger, m)
	writer.Start()
	defer writer.Stop()

	// 4. Ядро
	registry, err := intent.Default()
	if err != nil {
		return err
	}
	dispatcher, err := engine.New(engine.Deps{
		Events:  catalog.DefaultEvents(),
		Intents: registry,
		Actions: catalog.DefaultActions(),
		Policy:  accessor,
		Halts:   halts,
		Dedup:   b.dedup,
		Store:   b.store,
		Audit:   audit.NewRecorder(writer, logger),
		Metrics: m,
		Logger:  logger,
	}, handlers.Routes())
	if err != nil {
		return err
	}

	// 5. Триггеры: HTTP и расписание
	triggers := trigger.NewHandler(dispatcher,
		trigger.NewTenantLimiter(cfg.Engine.RateLimit, cfg.Engine.RateBurst),
		m, logger, cfg.Engine.RequestTimeout)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	triggers.Routes(r, auth.NewMiddleware(validator, logger))

	scheduler := trigger.NewScheduler(dispatcher, logger)
	if err := scheduler.RegisterSchedules(cfg.Schedules); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// 6. Консоль в том же процессе: в режиме memory это единственный способ менять настройки
	consoleSrv := server.NewConsoleServer(logger, validator,
		handler.NewSettingsHandler(service.NewSettingsService(b.settings, rdb, accessor, logger)),
		handler.NewHaltHandler(service.NewHaltService(halts, logger)),
		handler.NewAuditHandler(service.NewAuditService(b.audit)),
	)

	apiSrv := newHTTPServer(cfg.Server, r)
	adminSrv := newHTTPServer(cfg.Console, consoleSrv)

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiSrv, adminSrv} {
		go func(srv *http.Server) {
			logger.Info("http server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	logger.Info("automation engine ready",
		zap.String("storage", cfg.Engine.Storage),
		zap.Int("intents", len(registry.All())),
		zap.Int("event_types", len(catalog.DefaultEvents().Types())),
		zap.String("event_catalog", catalog.DefaultEvents().Version()),
		zap.Int("schedules", scheduler.Entries()))

	var runErr error
	select {
	case <-appCtx.Done():
		logger.Info("automation engine stopping...")
	case runErr = <-errCh:
		logger.Error("http server failed", zap.Error(runErr))
	}

	// 7. Graceful Shutdown: сначала входящий трафик, затем (через defer) планировщик и аудит
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{apiSrv, adminSrv} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return runErr
}

func newHTTPServer(cfg infra.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
