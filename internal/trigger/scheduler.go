package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/engine"
	"github.com/xela07ax/spaceai-automation/internal/identity"
	"github.com/xela07ax/spaceai-automation/internal/infra"
)

const defaultScheduleTimeout = 5 * time.Minute

// Scheduler запускает интенты по cron из конфигурации.
// Выражения в стандартном 5-польном формате: "0 9 * * 1-5" — 09:00 по будням.
type Scheduler struct {
	cron    *cron.Cron
	invoker Invoker
	logger  *zap.Logger
	now     func() time.Time
}

func NewScheduler(invoker Invoker, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		invoker: invoker,
		logger:  logger.Named("scheduler"),
		now:     time.Now,
	}
}

// RegisterSchedules добавляет задания. Ошибка в любом cron-выражении — ошибка старта.
func (s *Scheduler) RegisterSchedules(schedules []infra.ScheduleConfig) error {
	for _, sched := range schedules {
		if _, err := s.cron.AddFunc(sched.Cron, s.job(sched)); err != nil {
			return fmt.Errorf("registering cron %q for schedule %s: %w", sched.Cron, sched.Name, err)
		}
	}
	return nil
}

func (s *Scheduler) job(sched infra.ScheduleConfig) func() {
	timeout := sched.Timeout
	if timeout <= 0 {
		timeout = defaultScheduleTimeout
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ctx = identity.With(ctx, identity.Identity{TenantID: sched.TenantID})
		ctx = engine.WithTraceID(ctx, uuid.New().String())

		// Ключ корреляции привязан к минуте срабатывания: несколько инстансов
		// с одинаковым расписанием дадут один и тот же отпечаток
		fired := s.now().UTC().Truncate(time.Minute)
		tr := domain.Trigger{
			EventType:     domain.EventType(sched.EventType),
			TenantID:      sched.TenantID,
			IntentKey:     sched.IntentKey,
			Params:        copyParams(sched.Params),
			SourceEventID: fmt.Sprintf("schedule:%s:%d", sched.Name, fired.Unix()),
			Source:        "schedule",
			ActorType:     "system",
			ActorID:       sched.Name,
		}

		log := s.logger.With(
			zap.String("schedule", sched.Name),
			zap.String("tenant_id", sched.TenantID),
			zap.String("intent_key", sched.IntentKey),
			zap.String("trace_id", engine.TraceID(ctx)),
		)
		log.Info("scheduled_trigger_fired")

		res, err := s.invoker.Invoke(ctx, tr)
		switch {
		case err != nil:
			log.Error("scheduled_trigger_failed", zap.Error(err))
		case res.Outcome == engine.OutcomeRefused:
			log.Warn("scheduled_trigger_refused",
				zap.String("code", string(res.Refusal.Code)), zap.String("reason", res.Refusal.Reason))
		default:
			log.Info("scheduled_trigger_done", zap.String("outcome", string(res.Outcome)))
		}
	}
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Start запускает зарегистрированные задания.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop останавливает планировщик и ждет завершения запущенных заданий.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries — число зарегистрированных заданий.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
