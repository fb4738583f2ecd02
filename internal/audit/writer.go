package audit

/*
Файл writer.go реализует асинхронный писатель журнала исполнения (Audit Trail).

- Non-blocking: записи уходят в буферизованный канал, поэтому задержки БД не влияют
  на ответ вызывающему. Основная операция к этому моменту уже завершена.
- Batching: записи копятся в памяти и пишутся пачкой по таймеру или по достижении лимита.
- Drain Pattern: Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
- Сбой записи не откатывает и не меняет исход операции, но логируется громко:
  это дыра в наблюдаемости, а не в корректности.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/metrics"
)

// StorageInterface определяет, куда физически будут сохраняться записи
type StorageInterface interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []domain.AuditRecord) error
}

type WriterConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteAttempts uint
	WriteTimeout  time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.WriteAttempts == 0 {
		c.WriteAttempts = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

type Writer struct {
	ch      chan domain.AuditRecord // Буфер для асинхронности
	repo    StorageInterface
	cfg     WriterConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup

	// closeMu защищает канал от записи после закрытия: Log держит RLock на время отправки
	closeMu sync.RWMutex
	closed  bool
}

func NewWriter(repo StorageInterface, cfg WriterConfig, logger *zap.Logger, m *metrics.Metrics) *Writer {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New(nil)
	}
	return &Writer{
		ch:      make(chan domain.AuditRecord, cfg.BufferSize),
		repo:    repo,
		cfg:     cfg,
		logger:  logger.With(zap.String("mod", "audit-writer")),
		metrics: m,
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (w *Writer) Stop() {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return
	}
	w.closed = true
	w.logger.Info("stopping audit writer: closing channel and flushing buffer...")
	close(w.ch)
	w.closeMu.Unlock()

	w.wg.Wait()
	w.logger.Info("audit writer stopped gracefully")
}

// Log ставит запись в очередь. Никогда не блокирует и не возвращает ошибку.
func (w *Writer) Log(rec domain.AuditRecord) {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()

	if w.closed {
		w.metrics.AuditDropped.Inc()
		w.logger.Warn("audit record dropped: writer is stopping",
			zap.String("id", rec.ID),
			zap.String("tenant_id", rec.TenantID))
		return
	}

	// Load Shedding: при переполнении запись теряется, но это видно в логах и метриках
	select {
	case w.ch <- rec:
		w.metrics.AuditBufferFill.Set(float64(len(w.ch)))
	default:
		w.metrics.AuditDropped.Inc()
		w.logger.Error("audit_buffer_overflow",
			zap.String("tenant_id", rec.TenantID),
			zap.String("operation_type", rec.OperationType),
			zap.String("source_event_id", rec.Reference.SourceEventID),
		)
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()

	batch := make([]domain.AuditRecord, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.persist(batch)
		batch = batch[:0]
		w.metrics.AuditBufferFill.Set(float64(len(w.ch)))
	}

	for {
		select {
		case rec, ok := <-w.ch:
			if !ok {
				flush() // Финальный сброс
				w.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) persist(batch []domain.AuditRecord) {
	// Background: контекст запроса к этому моменту может быть уже закрыт
	r := retry.New(
		retry.Context(context.Background()),
		retry.Attempts(w.cfg.WriteAttempts),
		retry.DelayType(retry.BackOffDelay),
	)
	err := r.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
		defer cancel()
		return w.repo.WriteBatch(ctx, batch)
	})
	if err != nil {
		w.metrics.AuditWriteFailures.Inc()
		tenants := make([]string, 0, len(batch))
		for _, rec := range batch {
			tenants = append(tenants, rec.TenantID)
		}
		w.logger.Error("AUDIT WRITE FAILED: execution records lost",
			zap.Int("records", len(batch)),
			zap.Strings("tenant_ids", tenants),
			zap.Error(err))
	}
}
