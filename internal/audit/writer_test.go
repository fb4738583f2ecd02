package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/metrics"
)

type failingStorage struct {
	calls atomic.Int32
}

func (f *failingStorage) WriteBatch(ctx context.Context, records []domain.AuditRecord) error {
	f.calls.Add(1)
	return errors.New("connection refused")
}

func record(tenant, op string) domain.AuditRecord {
	return domain.AuditRecord{
		ID:            op,
		TenantID:      tenant,
		OccurredAt:    time.Now().UTC(),
		OperationType: op,
		Status:        domain.AuditSuccess,
		Summary:       "ok",
		Reference:     domain.AuditReference{EntityType: "student", EntityID: "s-1", SourceEventID: "e-1"},
	}
}

func TestWriter_FlushesOnStop(t *testing.T) {
	store := NewMemoryStorage()
	w := NewWriter(store, WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, zap.NewNop(), nil)
	w.Start()

	for i := 0; i < 5; i++ {
		w.Log(record("t1", "execute.tasks.complete"))
	}
	w.Stop()

	assert.Len(t, store.Records(), 5)
}

func TestWriter_FlushesByBatchSize(t *testing.T) {
	store := NewMemoryStorage()
	w := NewWriter(store, WriterConfig{BatchSize: 2, FlushInterval: time.Hour}, zap.NewNop(), nil)
	w.Start()
	defer w.Stop()

	w.Log(record("t1", "a"))
	w.Log(record("t1", "b"))

	assert.Eventually(t, func() bool { return len(store.Records()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestWriter_StopIsIdempotentAndDropsLateRecords(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	store := NewMemoryStorage()
	w := NewWriter(store, WriterConfig{}, zap.NewNop(), m)
	w.Start()
	w.Stop()
	w.Stop()

	w.Log(record("t1", "late"))

	assert.Empty(t, store.Records())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDropped))
}

func TestWriter_FailedWriteIsLoggedNotFatal(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m := metrics.New(prometheus.NewRegistry())
	storage := &failingStorage{}
	w := NewWriter(storage, WriterConfig{WriteAttempts: 2, FlushInterval: time.Hour}, zap.New(core), m)
	w.Start()

	w.Log(record("t1", "execute.student.register"))
	w.Stop()

	assert.Equal(t, int32(2), storage.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWriteFailures))
	require.Equal(t, 1, logs.FilterMessage("AUDIT WRITE FAILED: execution records lost").Len())
}

func TestMemoryStorage_FetchLogsScopedToTenant(t *testing.T) {
	store := NewMemoryStorage()
	older := record("t1", "execute.a")
	older.OccurredAt = time.Now().Add(-time.Minute)
	newer := record("t1", "execute.b")
	newer.Status = domain.AuditFailed
	require.NoError(t, store.WriteBatch(context.Background(), []domain.AuditRecord{older, newer, record("t2", "execute.c")}))

	got, err := store.FetchLogs(context.Background(), domain.AuditFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "execute.b", got[0].OperationType)

	failed, err := store.FetchLogs(context.Background(), domain.AuditFilter{TenantID: "t1", Status: domain.AuditFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}
