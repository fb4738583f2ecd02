package engine

/*
Файл dispatcher.go — ядро исполнения интентов.

Порядок проверок (дешевые и безопасные первыми):
 1. Тенант из контекста и совпадение с тенантом триггера.
 2. event_type из закрытого каталога событий.
 3. intent_key из реестра, params по JSON Schema.
 4. Уровень: query и draft идут в read-only обработчики, execute дальше.
 5. Execute: halt тенанта, для gated каталог действий и политика.
 6. Захват отпечатка дедупликации, повторная проверка политики, мутация под tenantguard.

Отказ возвращается как Result с Refusal и до любых побочных эффектов.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/audit"
	"github.com/xela07ax/spaceai-automation/internal/catalog"
	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/idempotency"
	"github.com/xela07ax/spaceai-automation/internal/identity"
	"github.com/xela07ax/spaceai-automation/internal/intent"
	"github.com/xela07ax/spaceai-automation/internal/metrics"
	"github.com/xela07ax/spaceai-automation/internal/stable"
	"github.com/xela07ax/spaceai-automation/internal/store"
	"github.com/xela07ax/spaceai-automation/internal/tenantguard"
)

// PolicyReader — fail-closed чтение флагов политики.
type PolicyReader interface {
	IsEnabled(ctx context.Context, tenantID, path string) bool
	IsEnabledFresh(ctx context.Context, tenantID, path string) bool
}

// HaltChecker сообщает, остановлена ли автоматизация тенанта.
type HaltChecker interface {
	IsHalted(tenantID string) bool
}

// AuditRecorder — best-effort запись журнала исполнения.
type AuditRecorder interface {
	Record(ctx context.Context, p audit.RecordParams)
}

type Deps struct {
	Events  *catalog.EventCatalog
	Intents *intent.Registry
	Actions *catalog.ActionCatalog
	Policy  PolicyReader
	Halts   HaltChecker
	Dedup   idempotency.Store
	Store   store.Store
	Audit   AuditRecorder
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type Dispatcher struct {
	events  *catalog.EventCatalog
	intents *intent.Registry
	actions *catalog.ActionCatalog
	policy  PolicyReader
	halts   HaltChecker
	dedup   idempotency.Store
	guarded *tenantguard.Store
	audit   AuditRecorder
	metrics *metrics.Metrics
	logger  *zap.Logger

	queries  map[string]QueryHandler
	drafts   map[string]DraftHandler
	executes map[string]ExecuteHandler
}

// New собирает диспетчер и сверяет таблицы обработчиков с реестром интентов.
// Любое расхождение — ошибка старта, а не отказ в рантайме.
func New(deps Deps, routes Routes) (*Dispatcher, error) {
	if deps.Events == nil || deps.Intents == nil || deps.Store == nil ||
		deps.Policy == nil || deps.Dedup == nil || deps.Audit == nil {
		return nil, errors.New("engine: events, intents, store, policy, dedup and audit are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}

	d := &Dispatcher{
		events:   deps.Events,
		intents:  deps.Intents,
		actions:  deps.Actions,
		policy:   deps.Policy,
		halts:    deps.Halts,
		dedup:    deps.Dedup,
		guarded:  tenantguard.Wrap(deps.Store),
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   deps.Logger.Named("engine"),
		queries:  make(map[string]QueryHandler),
		drafts:   make(map[string]DraftHandler),
		executes: make(map[string]ExecuteHandler),
	}

	var errs []error
	register := func(key string, level domain.AutomationLevel, add func()) {
		in, ok := d.intents.Lookup(key)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("handler for unknown intent %q", key))
		case in.Level != level:
			errs = append(errs, fmt.Errorf("%s handler for %s intent %q", level, in.Level, key))
		default:
			add()
		}
	}
	for _, r := range routes.Queries {
		if _, dup := d.queries[r.IntentKey]; dup {
			errs = append(errs, fmt.Errorf("duplicate query handler for %q", r.IntentKey))
			continue
		}
		register(r.IntentKey, domain.LevelQuery, func() { d.queries[r.IntentKey] = r.Handle })
	}
	for _, r := range routes.Drafts {
		if _, dup := d.drafts[r.IntentKey]; dup {
			errs = append(errs, fmt.Errorf("duplicate draft handler for %q", r.IntentKey))
			continue
		}
		register(r.IntentKey, domain.LevelDraft, func() { d.drafts[r.IntentKey] = r.Handle })
	}
	for _, r := range routes.Executes {
		if _, dup := d.executes[r.IntentKey]; dup {
			errs = append(errs, fmt.Errorf("duplicate execute handler for %q", r.IntentKey))
			continue
		}
		register(r.IntentKey, domain.LevelExecute, func() { d.executes[r.IntentKey] = r.Handle })
	}

	for _, in := range d.intents.All() {
		var has bool
		switch in.Level {
		case domain.LevelQuery:
			_, has = d.queries[in.Key]
		case domain.LevelDraft:
			_, has = d.drafts[in.Key]
		case domain.LevelExecute:
			_, has = d.executes[in.Key]
		}
		if !has {
			errs = append(errs, fmt.Errorf("%s intent %q has no handler", in.Level, in.Key))
		}
		// Некаталогизированное действие — отказ в рантайме, но о нем надо знать сразу
		if in.IsGated() {
			if _, ok := d.actions.Lookup(in.ActionKey); !ok {
				d.logger.Warn("gated intent bound to uncataloged action, it will always be refused",
					zap.String("intent_key", in.Key), zap.String("action_key", in.ActionKey))
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("engine: handler table inconsistent with intent registry: %w", errors.Join(errs...))
	}
	return d, nil
}

// invocation — состояние одного вызова, нужное для аудита и метрик.
type invocation struct {
	trigger domain.Trigger
	tenant  string
	intent  domain.Intent
	started time.Time
	log     *zap.Logger
}

func (inv *invocation) operationType() string {
	if inv.intent.Key == "" {
		return "intent." + inv.trigger.IntentKey
	}
	return string(inv.intent.Level) + "." + inv.intent.Key
}

// Invoke исполняет один триггер. error возвращается только для *ExecutionError.
func (d *Dispatcher) Invoke(ctx context.Context, tr domain.Trigger) (*Result, error) {
	inv := &invocation{
		trigger: tr,
		started: time.Now(),
		log: d.logger.With(
			zap.String("trace_id", TraceID(ctx)),
			zap.String("intent_key", tr.IntentKey),
			zap.String("event_type", string(tr.EventType)),
		),
	}

	res, err := d.invoke(ctx, inv)

	outcome := OutcomeFailed
	if res != nil {
		outcome = res.Outcome
	}
	level := string(inv.intent.Level)
	if level == "" {
		level = "unresolved"
	}
	d.metrics.Invocations.WithLabelValues(tr.IntentKey, level, string(outcome)).Inc()
	d.metrics.InvocationDuration.WithLabelValues(tr.IntentKey, level, string(outcome)).
		Observe(time.Since(inv.started).Seconds())
	return res, err
}

func (d *Dispatcher) invoke(ctx context.Context, inv *invocation) (*Result, error) {
	tr := inv.trigger

	id, ok := identity.FromContext(ctx)
	if !ok {
		return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalTenantMissing, "no tenant identity in context"))
	}
	inv.tenant = id.TenantID
	inv.log = inv.log.With(zap.String("tenant_id", inv.tenant))

	if tr.TenantID != "" && tr.TenantID != id.TenantID {
		return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalTenantMismatch,
			"trigger tenant does not match caller tenant"))
	}

	if !d.events.Known(tr.EventType) {
		return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalUnknownEventType,
			"event type %q is not in catalog %s", tr.EventType, d.events.Version()))
	}

	in, ok := d.intents.Lookup(tr.IntentKey)
	if !ok {
		return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalUnknownIntent,
			"intent %q is not registered", tr.IntentKey))
	}
	inv.intent = in

	if tr.Params == nil {
		tr.Params = map[string]any{}
		inv.trigger.Params = tr.Params
	}
	if err := d.intents.ValidateParams(in.Key, tr.Params); err != nil {
		return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalInvalidParams, "%v", err))
	}

	switch in.Level {
	case domain.LevelQuery:
		return d.runQuery(ctx, inv)
	case domain.LevelDraft:
		return d.runDraft(ctx, inv)
	default:
		return d.runExecute(ctx, inv)
	}
}

func (d *Dispatcher) runQuery(ctx context.Context, inv *invocation) (*Result, error) {
	data, err := d.queries[inv.intent.Key](ctx, readOnly{next: d.guarded}, inv.trigger.Params)
	if errors.Is(err, ErrNotFound) {
		// Чужая или отсутствующая сущность неотличимы для вызывающего
		inv.log.Debug("query found nothing", zap.Error(err))
		return &Result{Outcome: OutcomeNotFound, IntentKey: inv.intent.Key}, nil
	}
	if err != nil {
		return d.fail(ctx, inv, CodeHandlerFailed, err, "", "")
	}
	// Успешное чтение в журнал исполнения не пишется: состояние не менялось
	return &Result{Outcome: OutcomeSuccess, IntentKey: inv.intent.Key, Data: data}, nil
}

func (d *Dispatcher) runDraft(ctx context.Context, inv *invocation) (*Result, error) {
	draft, err := d.drafts[inv.intent.Key](ctx, readOnly{next: d.guarded}, inv.trigger.Params)
	if err != nil {
		return d.fail(ctx, inv, CodeHandlerFailed, err, "", "")
	}
	draft.ID = uuid.New().String()
	draft.TenantID = inv.tenant
	draft.IntentKey = inv.intent.Key
	draft.CreatedAt = time.Now().UTC()

	d.record(ctx, inv, audit.RecordParams{
		Status:    domain.AuditSuccess,
		Summary:   "draft prepared: " + draft.Title,
		Details:   map[string]any{"params": inv.trigger.Params},
		Reference: d.reference(inv, "draft", draft.ID),
	})
	return &Result{Outcome: OutcomeSuccess, IntentKey: inv.intent.Key, Draft: &draft, EntityID: draft.ID}, nil
}

func (d *Dispatcher) runExecute(ctx context.Context, inv *invocation) (*Result, error) {
	in := inv.intent

	if d.halts != nil && d.halts.IsHalted(inv.tenant) {
		return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalAutomationHalted,
			"automation is halted for this tenant"))
	}

	var policyPath string
	if in.IsGated() {
		action, ok := d.actions.Lookup(in.ActionKey)
		if !ok {
			return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalCatalogActionMissing,
				"action %q is not in the domain action catalog", in.ActionKey))
		}
		policyPath = action.PolicyPath
		if !d.policy.IsEnabled(ctx, inv.tenant, policyPath) {
			return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalPolicyDisabled,
				"policy %s is not enabled", policyPath))
		}
	}

	fingerprint, err := stable.Fingerprint(map[string]any{
		"tenant_id":       inv.tenant,
		"intent_key":      in.Key,
		"params":          inv.trigger.Params,
		"source_event_id": inv.trigger.SourceEventID,
	})
	if err != nil {
		return d.fail(ctx, inv, CodeHandlerFailed, fmt.Errorf("fingerprint: %w", err), "", "")
	}
	inv.log = inv.log.With(zap.String("fingerprint", fingerprint))

	claimed, err := d.dedup.Claim(ctx, inv.tenant, fingerprint)
	if err != nil {
		// Без отпечатка повтор не отличить от нового вызова, поэтому не исполняем
		return d.fail(ctx, inv, CodeDedupUnavailable, err, "", "")
	}
	if !claimed {
		d.metrics.DuplicatesSuppressed.WithLabelValues(in.Key).Inc()
		inv.log.Info("duplicate trigger suppressed", zap.String("source_event_id", inv.trigger.SourceEventID))
		return &Result{Outcome: OutcomeDuplicate, IntentKey: in.Key}, nil
	}

	// Повторная проверка сужает окно между проверкой политики и мутацией
	if in.IsGated() && !d.policy.IsEnabledFresh(ctx, inv.tenant, policyPath) {
		d.release(ctx, inv, fingerprint)
		return d.refuse(ctx, inv, domain.NewRefusal(domain.RefusalPolicyDisabled,
			"policy %s was disabled before execution", policyPath))
	}

	m, err := d.executes[in.Key](ctx, d.guarded, inv.trigger.Params)
	if err != nil {
		d.release(ctx, inv, fingerprint)
		return d.fail(ctx, inv, CodeHandlerFailed, err, m.EntityType, m.EntityID)
	}

	summary := m.Summary
	if summary == "" {
		summary = in.Key + " executed"
	}
	d.record(ctx, inv, audit.RecordParams{
		Status:    domain.AuditSuccess,
		Summary:   summary,
		Details:   map[string]any{"params": inv.trigger.Params},
		Reference: d.reference(inv, m.EntityType, m.EntityID),
	})
	inv.log.Info("intent executed", zap.String("entity_id", m.EntityID))
	return &Result{Outcome: OutcomeSuccess, IntentKey: in.Key, Data: m.Data, EntityID: m.EntityID}, nil
}

func (d *Dispatcher) release(ctx context.Context, inv *invocation, fingerprint string) {
	// Освобождение не должно зависеть от отмененного контекста запроса
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.dedup.Release(rctx, inv.tenant, fingerprint); err != nil {
		inv.log.Error("failed to release dedup claim, retries will be suppressed until TTL", zap.Error(err))
	}
}

func (d *Dispatcher) refuse(ctx context.Context, inv *invocation, r *domain.Refusal) (*Result, error) {
	d.metrics.Refusals.WithLabelValues(string(r.Code)).Inc()
	inv.log.Info("intent refused", zap.String("code", string(r.Code)), zap.String("reason", r.Reason))

	// Без тенанта запись аудита невалидна: отказ остается только в логе и метриках
	if inv.tenant != "" {
		d.record(ctx, inv, audit.RecordParams{
			Status:       domain.AuditFailed,
			Summary:      "refused: " + string(r.Code),
			Details:      map[string]any{"params": inv.trigger.Params},
			Reference:    d.reference(inv, "", ""),
			ErrorCode:    string(r.Code),
			ErrorSummary: r.Reason,
		})
	}
	return &Result{Outcome: OutcomeRefused, IntentKey: inv.trigger.IntentKey, Refusal: r}, nil
}

func (d *Dispatcher) fail(ctx context.Context, inv *invocation, code string, err error, entityType, entityID string) (*Result, error) {
	inv.log.Error("intent execution failed", zap.String("code", code), zap.Error(err))
	d.record(ctx, inv, audit.RecordParams{
		Status:       domain.AuditFailed,
		Summary:      "execution failed: " + inv.operationType(),
		Details:      map[string]any{"params": inv.trigger.Params},
		Reference:    d.reference(inv, entityType, entityID),
		ErrorCode:    code,
		ErrorSummary: err.Error(),
	})
	return &Result{Outcome: OutcomeFailed, IntentKey: inv.trigger.IntentKey},
		&ExecutionError{Code: code, IntentKey: inv.trigger.IntentKey, Err: err}
}

// reference по умолчанию указывает на сам интент, если сущность еще не создана.
func (d *Dispatcher) reference(inv *invocation, entityType, entityID string) domain.AuditReference {
	if entityType == "" {
		entityType = "intent"
	}
	if entityID == "" {
		entityID = inv.trigger.IntentKey
		if entityID == "" {
			entityID = "unknown"
		}
	}
	return domain.AuditReference{
		EntityType:    entityType,
		EntityID:      entityID,
		SourceEventID: inv.trigger.SourceEventID,
	}
}

func (d *Dispatcher) record(ctx context.Context, inv *invocation, p audit.RecordParams) {
	p.TenantID = inv.tenant
	p.OperationType = inv.operationType()
	p.Source = inv.trigger.Source
	p.ActorType = inv.trigger.ActorType
	p.ActorID = inv.trigger.ActorID
	p.Duration = time.Since(inv.started)
	d.audit.Record(ctx, p)
}
