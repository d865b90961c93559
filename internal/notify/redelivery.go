package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/telemetry"
)

// RedeliveryStore is the queue the worker drains.
type RedeliveryStore interface {
	ClaimRedeliveries(ctx context.Context, limit, maxAttempts int, lockFor time.Duration) ([]model.Redelivery, error)
	CompleteRedelivery(ctx context.Context, id int64) error
	FailRedelivery(ctx context.Context, id int64, lastError string) (int, error)
	PurgeDeadRedeliveries(ctx context.Context, maxAttempts int, olderThan time.Duration) (int64, error)
	AppendMessageLog(ctx context.Context, e model.MessageLogEntry) (uuid.UUID, error)
}

// RedeliveryConfig tunes the worker.
type RedeliveryConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// LockFor must exceed the time one batch can take so another worker
	// never claims rows still in flight.
	LockFor time.Duration
}

func (c RedeliveryConfig) withDefaults() RedeliveryConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.LockFor <= 0 {
		c.LockFor = 2 * time.Minute
	}
	return c
}

// RedeliveryWorker retries failed sends from the message_redelivery queue.
// Results are written to the message log only; executions are never
// reopened.
type RedeliveryWorker struct {
	store      RedeliveryStore
	dispatcher Dispatcher
	logger     *slog.Logger
	cfg        RedeliveryConfig

	started     atomic.Bool
	cancelLoop  context.CancelFunc
	done        chan struct{}
	once        sync.Once
	drainCh     chan context.Context
	lastCleanup time.Time

	attempts metric.Int64Counter
}

// NewRedeliveryWorker returns a stopped worker.
func NewRedeliveryWorker(store RedeliveryStore, dispatcher Dispatcher, logger *slog.Logger, cfg RedeliveryConfig) *RedeliveryWorker {
	w := &RedeliveryWorker{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		done:       make(chan struct{}),
		drainCh:    make(chan context.Context, 1),
	}
	w.attempts, _ = telemetry.Meter("mentora/notify").Int64Counter("mentora.redelivery.attempts",
		metric.WithDescription("Redelivery attempts by result"))
	return w
}

// Start launches the poll loop. Later calls are ignored. The loop keeps the
// values of ctx but not its cancellation; only Drain stops it, so the final
// batch always runs.
func (w *RedeliveryWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("redelivery: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain stops polling, runs one last batch under ctx and waits for it.
func (w *RedeliveryWorker) Drain(ctx context.Context) {
	if !w.started.Load() {
		return
	}
	select {
	case w.drainCh <- ctx:
	default:
	}
	w.cancelLoop()
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("redelivery: drain timed out")
	}
}

func (w *RedeliveryWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	defer w.once.Do(func() { close(w.done) })

	for {
		select {
		case <-ctx.Done():
			select {
			case drainCtx := <-w.drainCh:
				w.ProcessBatch(drainCtx)
			default:
			}
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, w.cfg.LockFor/2)
			w.ProcessBatch(batchCtx)
			cancel()
		}
	}
}

// ProcessBatch claims due entries and retries each once. It returns the
// number of entries delivered.
func (w *RedeliveryWorker) ProcessBatch(ctx context.Context) int {
	entries, err := w.store.ClaimRedeliveries(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts, w.cfg.LockFor)
	if err != nil {
		w.logger.Error("redelivery: claim", "error", err)
		return 0
	}

	delivered := 0
	for _, e := range entries {
		if w.retry(ctx, e) {
			delivered++
		}
	}

	if time.Since(w.lastCleanup) > time.Hour {
		if n, err := w.store.PurgeDeadRedeliveries(ctx, w.cfg.MaxAttempts, 7*24*time.Hour); err != nil {
			w.logger.Error("redelivery: purge dead letters", "error", err)
		} else if n > 0 {
			w.logger.Info("redelivery: purged dead letters", "deleted", n)
		}
		w.lastCleanup = time.Now()
	}
	return delivered
}

func (w *RedeliveryWorker) retry(ctx context.Context, e model.Redelivery) bool {
	attempt := e.Attempts + 1
	entry := model.MessageLogEntry{
		ExecutionID:  e.ExecutionID,
		ContactID:    e.ContactID,
		TemplateName: e.TemplateName,
		Recipient:    e.Recipient,
		Subject:      e.Subject,
		Attempt:      attempt,
	}

	res, sendErr := w.dispatcher.Send(ctx, e.Message())
	if sendErr == nil {
		entry.Status = model.MessageSent
		entry.ProviderMessageID = &res.ProviderMessageID
	} else {
		msg := sendErr.Error()
		entry.Status = model.MessageFailed
		entry.Error = &msg
	}
	if _, err := w.store.AppendMessageLog(ctx, entry); err != nil {
		w.logger.Error("redelivery: append message log", "error", err, "redelivery_id", e.ID)
	}
	w.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(entry.Status))))

	if sendErr == nil {
		if err := w.store.CompleteRedelivery(ctx, e.ID); err != nil {
			w.logger.Error("redelivery: complete", "error", err, "redelivery_id", e.ID)
		}
		w.logger.Info("redelivery: delivered", "redelivery_id", e.ID, "attempt", attempt, "template", e.TemplateName)
		return true
	}

	attempts, err := w.store.FailRedelivery(ctx, e.ID, sendErr.Error())
	if err != nil {
		w.logger.Error("redelivery: record failure", "error", err, "redelivery_id", e.ID)
		return false
	}
	if attempts >= w.cfg.MaxAttempts {
		w.logger.Warn("redelivery: dead-letter entry",
			"redelivery_id", e.ID,
			"message_log_id", e.MessageLogID,
			"recipient", e.Recipient,
			"attempts", attempts,
			"error", sendErr,
		)
	}
	return false
}
