package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/audit"
	"github.com/xela07ax/spaceai-automation/internal/console/handler"
	"github.com/xela07ax/spaceai-automation/internal/console/service"
	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/engine"
	"github.com/xela07ax/spaceai-automation/internal/infra"
	"github.com/xela07ax/spaceai-automation/internal/policy"
)

const registerPath = "domain_action.student.register.enabled"

// stubValidator: "admin-<tenant>" дает admin scope, "user-<tenant>" — без scope.
type stubValidator struct{}

func (stubValidator) VerifyToken(token string) (*domain.CustomClaims, error) {
	switch token {
	case "Bearer admin-t1":
		return &domain.CustomClaims{UserID: "u-admin", TenantID: "t1", Scopes: map[string]bool{"admin": true}}, nil
	case "Bearer admin-t2":
		return &domain.CustomClaims{UserID: "u-admin2", TenantID: "t2", Scopes: map[string]bool{"admin": true}}, nil
	case "Bearer user-t1":
		return &domain.CustomClaims{UserID: "u-1", TenantID: "t1"}, nil
	}
	return nil, errors.New("invalid token")
}

type fixture struct {
	srv      *ConsoleServer
	settings *policy.MemorySettings
	accessor *policy.Accessor
	halts    *engine.HaltManager
	audit    *audit.MemoryStorage
	rdb      *redis.Client
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := zap.NewNop()
	settings := policy.NewMemorySettings()
	acc := policy.NewAccessor(settings, logger)
	halts := engine.NewHaltManager(rdb, logger)
	auditStore := audit.NewMemoryStorage()

	srv := NewConsoleServer(logger, stubValidator{},
		handler.NewSettingsHandler(service.NewSettingsService(settings, rdb, acc, logger)),
		handler.NewHaltHandler(service.NewHaltService(halts, logger)),
		handler.NewAuditHandler(service.NewAuditService(auditStore)),
	)
	return &fixture{srv: srv, settings: settings, accessor: acc, halts: halts, audit: auditStore, rdb: rdb, mr: mr}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth_IsPublic(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil).Code)
}

func TestSettings_RequiresAdmin(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/settings", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/settings", "forged", nil).Code)
	assert.Equal(t, http.StatusForbidden,
		f.do(t, http.MethodPut, "/v1/settings/"+registerPath, "user-t1", map[string]any{"value": true}).Code)
}

func TestSettings_PutEnablesActionAndInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.rdb.Subscribe(ctx, infra.RedisChanSettingsUpdate)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	// Прогреваем кэш значением "выключено"
	require.False(t, f.accessor.IsEnabled(ctx, "t1", registerPath))

	rec := f.do(t, http.MethodPut, "/v1/settings/"+registerPath, "admin-t1", map[string]any{"value": true})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, f.accessor.IsEnabled(ctx, "t1", registerPath))
	assert.False(t, f.accessor.IsEnabled(ctx, "t2", registerPath))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "t1", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation published")
	}

	rec = f.do(t, http.MethodGet, "/v1/settings/"+registerPath, "admin-t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["value"])

	// Тенант t2 не видит настройки t1
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/settings/"+registerPath, "admin-t2", nil).Code)
}

func TestSettings_DeleteRestoresFailClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.UpsertSetting(ctx, "t1", registerPath, true))
	require.True(t, f.accessor.IsEnabled(ctx, "t1", registerPath))

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/settings/"+registerPath, "admin-t1", nil).Code)
	assert.False(t, f.accessor.IsEnabled(ctx, "t1", registerPath))

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/settings/"+registerPath, "admin-t1", nil).Code)
}

func TestSettings_PutValidation(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/v1/settings/"+registerPath, "admin-t1", map[string]any{}).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/v1/settings/a..b", "admin-t1", map[string]any{"value": true}).Code)
}

func TestSettings_ListReturnsDocument(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.UpsertSetting(context.Background(), "t1", registerPath, true))

	rec := f.do(t, http.MethodGet, "/v1/settings", "admin-t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	v, ok := policy.Resolve(doc, registerPath)
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestHalt_RoundTrip(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/automation/halt", "user-t1", nil).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/automation/halt", "admin-t1", nil).Code)
	assert.True(t, f.halts.IsHalted("t1"))
	assert.False(t, f.halts.IsHalted("t2"))
	ok, err := f.mr.SIsMember(infra.RedisKeyHaltedTenants, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	rec := f.do(t, http.MethodGet, "/v1/automation/status", "user-t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tenant_id":"t1","halted":true}`, rec.Body.String())

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/automation/resume", "admin-t1", nil).Code)
	assert.False(t, f.halts.IsHalted("t1"))
}

func TestAudit_ScopedToCallerTenant(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	require.NoError(t, f.audit.WriteBatch(context.Background(), []domain.AuditRecord{
		{ID: "a1", TenantID: "t1", OccurredAt: now, OperationType: "execute.student.register", Status: domain.AuditSuccess},
		{ID: "a2", TenantID: "t1", OccurredAt: now.Add(time.Second), OperationType: "execute.task.complete", Status: domain.AuditFailed},
		{ID: "b1", TenantID: "t2", OccurredAt: now, OperationType: "execute.student.register", Status: domain.AuditSuccess},
	}))

	rec := f.do(t, http.MethodGet, "/v1/audit", "user-t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []domain.AuditRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, "a2", logs[0].ID)

	rec = f.do(t, http.MethodGet, "/v1/audit?status=failed", "user-t1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "execute.task.complete", logs[0].OperationType)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/audit?limit=x", "user-t1", nil).Code)
}
