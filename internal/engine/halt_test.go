package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/infra"
)

func TestHaltManager_ProcessSignal(t *testing.T) {
	m := NewHaltManager(nil, zap.NewNop())

	m.processSignal("tenant:with:colons:on")
	assert.True(t, m.IsHalted("tenant:with:colons"))

	m.processSignal("tenant:with:colons:off")
	assert.False(t, m.IsHalted("tenant:with:colons"))

	m.processSignal("garbage")
	m.processSignal("t1:maybe")
	assert.False(t, m.IsHalted("t1"))
}

func TestHaltManager_InitAndListen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err := mr.SAdd(infra.RedisKeyHaltedTenants, "t1")
	require.NoError(t, err)

	m := NewHaltManager(rdb, zap.NewNop())
	require.NoError(t, m.Init(context.Background()))
	assert.True(t, m.IsHalted("t1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Listen(ctx)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(infra.RedisChanHalt)[infra.RedisChanHalt] == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Другой инстанс (консоль) меняет состояние
	console := NewHaltManager(rdb, zap.NewNop())
	require.NoError(t, console.SetHalted(context.Background(), "t2", true))
	require.NoError(t, console.SetHalted(context.Background(), "t1", false))

	require.Eventually(t, func() bool {
		return m.IsHalted("t2") && !m.IsHalted("t1")
	}, 2*time.Second, 10*time.Millisecond)

	members, err := mr.Members(infra.RedisKeyHaltedTenants)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, members)
}

func TestTracingMiddleware(t *testing.T) {
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", TraceID(context.Background()))
	assert.Equal(t, "abc", TraceID(WithTraceID(context.Background(), "abc")))
}
