package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/audit"
	"github.com/xela07ax/spaceai-automation/internal/catalog"
	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/engine"
	"github.com/xela07ax/spaceai-automation/internal/handlers"
	"github.com/xela07ax/spaceai-automation/internal/idempotency"
	"github.com/xela07ax/spaceai-automation/internal/identity"
	"github.com/xela07ax/spaceai-automation/internal/intent"
	"github.com/xela07ax/spaceai-automation/internal/metrics"
	"github.com/xela07ax/spaceai-automation/internal/policy"
	"github.com/xela07ax/spaceai-automation/internal/store"
)

const registerPath = "domain_action.student.register.enabled"

type recordingSink struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (s *recordingSink) Log(rec domain.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) forTenant(tenantID string) []domain.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditRecord
	for _, r := range s.records {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

type settings struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

func (s *settings) GetSettings(ctx context.Context, tenantID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[tenantID], nil
}

func (s *settings) enable(tenantID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[tenantID] == nil {
		s.docs[tenantID] = map[string]any{}
	}
	s.docs[tenantID][path] = true
}

type fixture struct {
	mem      *store.MemoryStore
	sink     *recordingSink
	settings *settings
	halts    *engine.HaltManager
	metrics  *metrics.Metrics
	d        *engine.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := intent.Default()
	require.NoError(t, err)

	f := &fixture{
		mem:      store.NewMemoryStore(handlers.Resources()...),
		sink:     &recordingSink{},
		settings: &settings{docs: map[string]map[string]any{}},
		halts:    engine.NewHaltManager(nil, zap.NewNop()),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.d, err = engine.New(engine.Deps{
		Events:  catalog.DefaultEvents(),
		Intents: reg,
		Actions: catalog.DefaultActions(),
		Policy:  policy.NewAccessor(f.settings, zap.NewNop(), policy.WithCacheTTL(0)),
		Halts:   f.halts,
		Dedup:   idempotency.NewMemoryStore(0),
		Store:   f.mem,
		Audit:   audit.NewRecorder(f.sink, zap.NewNop()),
		Metrics: f.metrics,
		Logger:  zap.NewNop(),
	}, handlers.Routes())
	require.NoError(t, err)
	return f
}

func asTenant(tenantID string) context.Context {
	return identity.With(context.Background(), identity.Identity{TenantID: tenantID})
}

func registerTrigger(tenantID, sourceEventID string) domain.Trigger {
	return domain.Trigger{
		EventType:     "operator.agent_request",
		TenantID:      tenantID,
		IntentKey:     "student.register",
		Params:        map[string]any{"name": "김철수", "phone": "010-1234-5678"},
		SourceEventID: sourceEventID,
		Source:        "agent",
		ActorType:     "agent",
		ActorID:       "assistant-1",
	}
}

func countRows(t *testing.T, mem *store.MemoryStore, resource string) int {
	t.Helper()
	rows, err := mem.Select(context.Background(), store.From(resource))
	require.NoError(t, err)
	return len(rows)
}

func TestInvoke_GatedWithoutPolicyIsRefused(t *testing.T) {
	f := newFixture(t)

	res, err := f.d.Invoke(asTenant("T"), registerTrigger("T", "evt-1"))
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeRefused, res.Outcome)
	assert.Equal(t, domain.RefusalPolicyDisabled, res.Refusal.Code)

	assert.Zero(t, countRows(t, f.mem, handlers.ResourceStudents))
	recs := f.sink.forTenant("T")
	require.Len(t, recs, 1)
	assert.Equal(t, domain.AuditFailed, recs[0].Status)
	assert.Equal(t, "PolicyDisabled", recs[0].ErrorCode)
	assert.Equal(t, "execute.student.register", recs[0].OperationType)
	assert.Equal(t, "evt-1", recs[0].Reference.SourceEventID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Refusals.WithLabelValues("PolicyDisabled")))
}

func TestInvoke_GatedWithPolicyExecutesAndMasksAudit(t *testing.T) {
	f := newFixture(t)
	f.settings.enable("T", registerPath)

	res, err := f.d.Invoke(asTenant("T"), registerTrigger("T", "evt-1"))
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSuccess, res.Outcome)
	assert.NotEmpty(t, res.EntityID)
	assert.Equal(t, 1, countRows(t, f.mem, handlers.ResourceStudents))

	recs := f.sink.forTenant("T")
	require.Len(t, recs, 1)
	assert.Equal(t, domain.AuditSuccess, recs[0].Status)
	assert.Equal(t, "student", recs[0].Reference.EntityType)
	assert.Equal(t, res.EntityID, recs[0].Reference.EntityID)
	params := recs[0].Details["params"].(map[string]any)
	assert.Equal(t, "김*수", params["name"])
	assert.Equal(t, "010-****-5678", params["phone"])
}

func TestInvoke_QueryNeverReturnsOtherTenantRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, r := range []store.Row{
		{"id": "a", "tenant_id": "T1", "name": "Kim", "status": "active"},
		{"id": "b", "tenant_id": "T2", "name": "Lee", "status": "active"},
		{"id": "c", "tenant_id": "T2", "name": "Park", "status": "active"},
	} {
		_, err := f.mem.Insert(ctx, handlers.ResourceStudents, r)
		require.NoError(t, err)
	}

	res, err := f.d.Invoke(asTenant("T1"), domain.Trigger{
		EventType: "operator.agent_request",
		IntentKey: "students.list",
		Params:    map[string]any{},
	})
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSuccess, res.Outcome)

	rows := res.Data.(map[string]any)["students"].([]store.Row)
	require.Len(t, rows, 1)
	for _, r := range rows {
		assert.Equal(t, "T1", r["tenant_id"])
	}
	// Успешный query не аудируется
	assert.Empty(t, f.sink.forTenant("T1"))
}

func TestInvoke_QueryMissIsNotFoundNotFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.mem.Insert(context.Background(), handlers.ResourceStudents,
		store.Row{"id": "s-t2", "tenant_id": "T2", "name": "Lee", "status": "active"})
	require.NoError(t, err)

	res, err := f.d.Invoke(asTenant("T1"), domain.Trigger{
		EventType: "operator.agent_request",
		IntentKey: "students.get",
		Params:    map[string]any{"student_id": "s-t2"},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeNotFound, res.Outcome)
	assert.Nil(t, res.Data)
	assert.Empty(t, f.sink.forTenant("T1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.metrics.Invocations.WithLabelValues("students.get", "query", "not_found")))

	res, err = f.d.Invoke(asTenant("T2"), domain.Trigger{
		EventType: "operator.agent_request",
		IntentKey: "students.get",
		Params:    map[string]any{"student_id": "s-t2"},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSuccess, res.Outcome)
}

func TestInvoke_ConcurrentIdenticalTriggersMutateOnce(t *testing.T) {
	f := newFixture(t)
	f.settings.enable("T", registerPath)

	const n = 16
	var success, duplicate atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.d.Invoke(asTenant("T"), registerTrigger("T", "evt-42"))
			assert.NoError(t, err)
			switch res.Outcome {
			case engine.OutcomeSuccess:
				success.Add(1)
			case engine.OutcomeDuplicate:
				duplicate.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(n-1), duplicate.Load())
	assert.Equal(t, 1, countRows(t, f.mem, handlers.ResourceStudents))
}

func TestInvoke_DifferentCorrelationKeysAreDistinct(t *testing.T) {
	f := newFixture(t)
	f.settings.enable("T", registerPath)

	for _, id := range []string{"evt-1", "evt-2"} {
		res, err := f.d.Invoke(asTenant("T"), registerTrigger("T", id))
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeSuccess, res.Outcome)
	}
	assert.Equal(t, 2, countRows(t, f.mem, handlers.ResourceStudents))
}

func TestInvoke_UncatalogedGatedActionNeverMutates(t *testing.T) {
	reg, err := intent.New(domain.Intent{
		Key:       "payroll.run",
		Level:     domain.LevelExecute,
		Class:     domain.ClassGated,
		ActionKey: "payroll.run",
	})
	require.NoError(t, err)

	mem := store.NewMemoryStore("payroll")
	sink := &recordingSink{}
	var called atomic.Bool
	settingsRepo := &settings{docs: map[string]map[string]any{
		"T": {catalog.PolicyPathFor("payroll.run"): true},
	}}

	d, err := engine.New(engine.Deps{
		Events:  catalog.DefaultEvents(),
		Intents: reg,
		Actions: catalog.DefaultActions(),
		Policy:  policy.NewAccessor(settingsRepo, zap.NewNop()),
		Dedup:   idempotency.NewMemoryStore(0),
		Store:   mem,
		Audit:   audit.NewRecorder(sink, zap.NewNop()),
	}, engine.Routes{Executes: []engine.ExecuteRoute{{
		IntentKey: "payroll.run",
		Handle: func(ctx context.Context, db store.Store, params map[string]any) (engine.Mutation, error) {
			called.Store(true)
			_, err := db.Insert(ctx, "payroll", store.Row{"tenant_id": "T"})
			return engine.Mutation{EntityType: "payroll", EntityID: "p"}, err
		},
	}}})
	require.NoError(t, err)

	res, err := d.Invoke(asTenant("T"), domain.Trigger{EventType: "operator.agent_request", IntentKey: "payroll.run"})
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeRefused, res.Outcome)
	assert.Equal(t, domain.RefusalCatalogActionMissing, res.Refusal.Code)
	assert.False(t, called.Load())
	assert.Zero(t, mem.Writes())
	assert.Len(t, sink.forTenant("T"), 1)
}

func TestInvoke_RefusalsBeforeDispatch(t *testing.T) {
	cases := []struct {
		name    string
		ctx     context.Context
		trigger domain.Trigger
		code    domain.RefusalCode
		audited bool
	}{
		{
			name:    "missing identity",
			ctx:     context.Background(),
			trigger: domain.Trigger{EventType: "operator.agent_request", IntentKey: "students.list"},
			code:    domain.RefusalTenantMissing,
		},
		{
			name:    "tenant mismatch",
			ctx:     asTenant("T"),
			trigger: domain.Trigger{EventType: "operator.agent_request", TenantID: "OTHER", IntentKey: "students.list"},
			code:    domain.RefusalTenantMismatch,
			audited: true,
		},
		{
			name:    "unknown event type",
			ctx:     asTenant("T"),
			trigger: domain.Trigger{EventType: "weather.sunny", IntentKey: "students.list"},
			code:    domain.RefusalUnknownEventType,
			audited: true,
		},
		{
			name:    "unknown intent",
			ctx:     asTenant("T"),
			trigger: domain.Trigger{EventType: "operator.agent_request", IntentKey: "students.delete_all"},
			code:    domain.RefusalUnknownIntent,
			audited: true,
		},
		{
			name:    "invalid params",
			ctx:     asTenant("T"),
			trigger: domain.Trigger{EventType: "operator.agent_request", IntentKey: "students.get", Params: map[string]any{}},
			code:    domain.RefusalInvalidParams,
			audited: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.d.Invoke(tc.ctx, tc.trigger)
			require.NoError(t, err)
			require.Equal(t, engine.OutcomeRefused, res.Outcome)
			assert.Equal(t, tc.code, res.Refusal.Code)
			if tc.audited {
				recs := f.sink.forTenant("T")
				require.Len(t, recs, 1)
				assert.Equal(t, string(tc.code), recs[0].ErrorCode)
			} else {
				assert.Empty(t, f.sink.records)
			}
		})
	}
}

func TestInvoke_HaltedTenantCannotExecute(t *testing.T) {
	f := newFixture(t)
	f.settings.enable("T", registerPath)
	require.NoError(t, f.halts.SetHalted(context.Background(), "T", true))

	res, err := f.d.Invoke(asTenant("T"), registerTrigger("T", "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.RefusalAutomationHalted, res.Refusal.Code)
	assert.Zero(t, countRows(t, f.mem, handlers.ResourceStudents))

	// Чтение при остановке разрешено
	res, err = f.d.Invoke(asTenant("T"), domain.Trigger{EventType: "operator.agent_request", IntentKey: "students.list"})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSuccess, res.Outcome)

	require.NoError(t, f.halts.SetHalted(context.Background(), "T", false))
	res, err = f.d.Invoke(asTenant("T"), registerTrigger("T", "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSuccess, res.Outcome)
}

func TestInvoke_DraftReturnsSuggestionWithoutMutation(t *testing.T) {
	f := newFixture(t)
	_, err := f.mem.Insert(context.Background(), handlers.ResourceStudents,
		store.Row{"id": "s1", "tenant_id": "T", "name": "Kim", "phone": "010-1111-2222", "status": "active"})
	require.NoError(t, err)
	writes := f.mem.Writes()

	res, err := f.d.Invoke(asTenant("T"), domain.Trigger{
		EventType: "retention.student_at_risk",
		IntentKey: "retention.outreach.draft",
		Params:    map[string]any{"student_id": "s1"},
	})
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.Draft)
	assert.Equal(t, "T", res.Draft.TenantID)
	assert.NotEmpty(t, res.Draft.ID)
	assert.Equal(t, writes, f.mem.Writes())

	recs := f.sink.forTenant("T")
	require.Len(t, recs, 1)
	assert.Equal(t, "draft.retention.outreach.draft", recs[0].OperationType)
	assert.Contains(t, recs[0].Reference.SourceEventID, "manual:")
}

type flippingPolicy struct{}

func (flippingPolicy) IsEnabled(ctx context.Context, tenantID, path string) bool      { return true }
func (flippingPolicy) IsEnabledFresh(ctx context.Context, tenantID, path string) bool { return false }

func TestInvoke_PolicyRecheckedBeforeMutation(t *testing.T) {
	reg, err := intent.Default()
	require.NoError(t, err)
	mem := store.NewMemoryStore(handlers.Resources()...)
	sink := &recordingSink{}
	dedup := idempotency.NewMemoryStore(0)

	d, err := engine.New(engine.Deps{
		Events:  catalog.DefaultEvents(),
		Intents: reg,
		Actions: catalog.DefaultActions(),
		Policy:  flippingPolicy{},
		Dedup:   dedup,
		Store:   mem,
		Audit:   audit.NewRecorder(sink, zap.NewNop()),
	}, handlers.Routes())
	require.NoError(t, err)

	res, err := d.Invoke(asTenant("T"), registerTrigger("T", "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.RefusalPolicyDisabled, res.Refusal.Code)
	assert.Zero(t, mem.Writes())

	// Отпечаток освобожден: следующий вызов не считается дублем
	res, err = d.Invoke(asTenant("T"), registerTrigger("T", "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeRefused, res.Outcome)
}

func TestInvoke_HandlerFailureIsExecutionErrorAndReleasesClaim(t *testing.T) {
	reg, err := intent.New(domain.Intent{Key: "tasks.complete", Level: domain.LevelExecute, Class: domain.ClassUnconditional})
	require.NoError(t, err)
	sink := &recordingSink{}
	var calls atomic.Int32

	d, err := engine.New(engine.Deps{
		Events:  catalog.DefaultEvents(),
		Intents: reg,
		Policy:  flippingPolicy{},
		Dedup:   idempotency.NewMemoryStore(0),
		Store:   store.NewMemoryStore(),
		Audit:   audit.NewRecorder(sink, zap.NewNop()),
	}, engine.Routes{Executes: []engine.ExecuteRoute{{
		IntentKey: "tasks.complete",
		Handle: func(ctx context.Context, db store.Store, params map[string]any) (engine.Mutation, error) {
			calls.Add(1)
			return engine.Mutation{EntityType: "task", EntityID: "k1"}, errors.New("connection reset")
		},
	}}})
	require.NoError(t, err)

	tr := domain.Trigger{EventType: "workforce.task_overdue", IntentKey: "tasks.complete", SourceEventID: "evt-9"}
	for i := 0; i < 2; i++ {
		res, err := d.Invoke(asTenant("T"), tr)
		var execErr *engine.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, engine.CodeHandlerFailed, execErr.Code)
		assert.Equal(t, engine.OutcomeFailed, res.Outcome)
	}
	assert.Equal(t, int32(2), calls.Load())

	recs := sink.forTenant("T")
	require.Len(t, recs, 2)
	assert.Equal(t, domain.AuditFailed, recs[0].Status)
	assert.Equal(t, "k1", recs[0].Reference.EntityID)
	assert.Equal(t, "connection reset", recs[0].ErrorSummary)
}

func TestInvoke_QueryHandlerCannotMutate(t *testing.T) {
	reg, err := intent.New(domain.Intent{Key: "students.list", Level: domain.LevelQuery})
	require.NoError(t, err)
	mem := store.NewMemoryStore(handlers.ResourceStudents)

	d, err := engine.New(engine.Deps{
		Events:  catalog.DefaultEvents(),
		Intents: reg,
		Policy:  flippingPolicy{},
		Dedup:   idempotency.NewMemoryStore(0),
		Store:   mem,
		Audit:   audit.NewRecorder(&recordingSink{}, zap.NewNop()),
	}, engine.Routes{Queries: []engine.QueryRoute{{
		IntentKey: "students.list",
		Handle: func(ctx context.Context, db store.Store, params map[string]any) (any, error) {
			return db.Insert(ctx, handlers.ResourceStudents, store.Row{"tenant_id": "T"})
		},
	}}})
	require.NoError(t, err)

	_, err = d.Invoke(asTenant("T"), domain.Trigger{EventType: "operator.agent_request", IntentKey: "students.list"})
	assert.ErrorIs(t, err, engine.ErrReadOnly)
	assert.Zero(t, mem.Writes())
}

func TestNew_RejectsInconsistentHandlerTables(t *testing.T) {
	reg, err := intent.Default()
	require.NoError(t, err)
	deps := engine.Deps{
		Events:  catalog.DefaultEvents(),
		Intents: reg,
		Actions: catalog.DefaultActions(),
		Policy:  flippingPolicy{},
		Dedup:   idempotency.NewMemoryStore(0),
		Store:   store.NewMemoryStore(),
		Audit:   audit.NewRecorder(&recordingSink{}, zap.NewNop()),
	}
	noopQuery := func(ctx context.Context, db store.Store, params map[string]any) (any, error) { return nil, nil }

	t.Run("missing handler", func(t *testing.T) {
		routes := handlers.Routes()
		routes.Executes = routes.Executes[1:]
		_, err := engine.New(deps, routes)
		assert.ErrorContains(t, err, "has no handler")
	})

	t.Run("unknown intent", func(t *testing.T) {
		routes := handlers.Routes()
		routes.Queries = append(routes.Queries, engine.QueryRoute{IntentKey: "ghost.list", Handle: noopQuery})
		_, err := engine.New(deps, routes)
		assert.ErrorContains(t, err, "unknown intent")
	})

	t.Run("wrong level", func(t *testing.T) {
		routes := handlers.Routes()
		routes.Queries = append(routes.Queries, engine.QueryRoute{IntentKey: "student.register", Handle: noopQuery})
		_, err := engine.New(deps, routes)
		assert.ErrorContains(t, err, "query handler for execute intent")
	})

	t.Run("duplicate", func(t *testing.T) {
		routes := handlers.Routes()
		routes.Queries = append(routes.Queries, engine.QueryRoute{IntentKey: "students.list", Handle: noopQuery})
		_, err := engine.New(deps, routes)
		assert.ErrorContains(t, err, "duplicate query handler")
	})

	t.Run("consistent", func(t *testing.T) {
		_, err := engine.New(deps, handlers.Routes())
		assert.NoError(t, err)
	})
}
