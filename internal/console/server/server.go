package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/console/handler"
	"github.com/xela07ax/spaceai-automation/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256), тот же валидатор, что и у API движка
	authValidator auth.TokenValidator

	// Обработчики
	settingsHandler *handler.SettingsHandler // /v1/settings
	haltHandler     *handler.HaltHandler     // /v1/automation (Kill-switch)
	auditHandler    *handler.AuditHandler    // /v1/audit (Logs)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	settingsH *handler.SettingsHandler,
	haltH *handler.HaltHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   validator,
		settingsHandler: settingsH,
		haltHandler:     haltH,
		auditHandler:    auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен с tenant_id) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Аудит и статус доступны любому пользователю тенанта
		r.Get("/v1/audit", s.auditHandler.GetLogs)
		r.Get("/v1/automation/status", s.haltHandler.Status)

		// Управление политиками и Kill-switch только для admin
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeAdmin))

			r.Route("/v1/settings", func(r chi.Router) {
				r.Get("/", s.settingsHandler.List)
				r.Get("/{path}", s.settingsHandler.Get)
				r.Put("/{path}", s.settingsHandler.Put)
				r.Delete("/{path}", s.settingsHandler.Delete)
			})

			r.Post("/v1/automation/halt", s.haltHandler.Halt)
			r.Post("/v1/automation/resume", s.haltHandler.Resume)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
