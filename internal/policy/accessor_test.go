package policy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/infra"
)

type fakeRepo struct {
	mu    sync.Mutex
	docs  map[string]map[string]any
	err   error
	calls atomic.Int64
}

func (f *fakeRepo) GetSettings(ctx context.Context, tenantID string) (map[string]any, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[tenantID], nil
}

func (f *fakeRepo) set(tenantID string, doc map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[tenantID] = doc
}

const registerPath = "domain_action.student.register.enabled"

func TestAccessor_AbsentIsDistinctFromFalse(t *testing.T) {
	repo := &fakeRepo{docs: map[string]map[string]any{
		"t1": {"domain_action": map[string]any{"student": map[string]any{"register": map[string]any{"enabled": false}}}},
	}}
	a := NewAccessor(repo, zap.NewNop())
	ctx := context.Background()

	v, ok := a.GetSetting(ctx, "t1", registerPath)
	require.True(t, ok)
	assert.Equal(t, false, v)
	assert.False(t, a.IsEnabled(ctx, "t1", registerPath))

	_, ok = a.GetSetting(ctx, "t2", registerPath)
	assert.False(t, ok)
	assert.False(t, a.IsEnabled(ctx, "t2", registerPath))
}

func TestAccessor_OnlyBooleanTrueEnables(t *testing.T) {
	repo := &fakeRepo{docs: map[string]map[string]any{
		"t1": {registerPath: "true"},
		"t2": {registerPath: 1},
		"t3": {registerPath: true},
	}}
	a := NewAccessor(repo, zap.NewNop())
	ctx := context.Background()

	assert.False(t, a.IsEnabled(ctx, "t1", registerPath))
	assert.False(t, a.IsEnabled(ctx, "t2", registerPath))
	assert.True(t, a.IsEnabled(ctx, "t3", registerPath))
}

func TestAccessor_StorageFailureIsAbsent(t *testing.T) {
	repo := &fakeRepo{err: errors.New("connection refused")}
	a := NewAccessor(repo, zap.NewNop())

	_, ok := a.GetSetting(context.Background(), "t1", registerPath)
	assert.False(t, ok)
	assert.False(t, a.IsEnabled(context.Background(), "t1", registerPath))
}

func TestAccessor_OpenBreakerIsAbsent(t *testing.T) {
	repo := &fakeRepo{err: errors.New("timeout"), docs: map[string]map[string]any{}}
	a := NewAccessor(repo, zap.NewNop(), WithBreaker(gobreaker.Settings{
		Name:        "test",
		Timeout:     time.Hour,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 },
	}))
	ctx := context.Background()
	a.GetSetting(ctx, "t1", registerPath)
	a.GetSetting(ctx, "t1", registerPath)
	calls := repo.calls.Load()

	// Хранилище "починилось", но предохранитель открыт — все равно "нет настройки"
	repo.mu.Lock()
	repo.err = nil
	repo.docs["t1"] = map[string]any{registerPath: true}
	repo.mu.Unlock()

	assert.False(t, a.IsEnabled(ctx, "t1", registerPath))
	assert.Equal(t, calls, repo.calls.Load())
}

func TestAccessor_CacheAndFreshRead(t *testing.T) {
	repo := &fakeRepo{docs: map[string]map[string]any{"t1": {registerPath: true}}}
	a := NewAccessor(repo, zap.NewNop(), WithCacheTTL(time.Minute))
	ctx := context.Background()

	assert.True(t, a.IsEnabled(ctx, "t1", registerPath))
	repo.set("t1", map[string]any{registerPath: false})

	// L1 еще держит старое значение, свежее чтение его обходит
	assert.True(t, a.IsEnabled(ctx, "t1", registerPath))
	assert.False(t, a.IsEnabledFresh(ctx, "t1", registerPath))

	a.Invalidate("t1")
	assert.False(t, a.IsEnabled(ctx, "t1", registerPath))
}

func TestAccessor_ListenInvalidatesOnSignal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	repo := &fakeRepo{docs: map[string]map[string]any{"t1": {registerPath: true}}}
	a := NewAccessor(repo, zap.NewNop(), WithCacheTTL(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Listen(ctx, rdb)

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(infra.RedisChanSettingsUpdate)[infra.RedisChanSettingsUpdate] == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, a.IsEnabled(ctx, "t1", registerPath))
	repo.set("t1", map[string]any{registerPath: false})

	mr.Publish(infra.RedisChanSettingsUpdate, "t1")

	require.Eventually(t, func() bool {
		return !a.IsEnabled(ctx, "t1", registerPath)
	}, 2*time.Second, 10*time.Millisecond)
}
