package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/notify"
)

type memQueue struct {
	mu        sync.Mutex
	entries   map[int64]*model.Redelivery
	completed []int64
	logs      []model.MessageLogEntry
}

func newMemQueue(rs ...model.Redelivery) *memQueue {
	q := &memQueue{entries: map[int64]*model.Redelivery{}}
	for i := range rs {
		r := rs[i]
		q.entries[r.ID] = &r
	}
	return q
}

func (q *memQueue) ClaimRedeliveries(_ context.Context, limit, maxAttempts int, _ time.Duration) ([]model.Redelivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.Redelivery
	for _, r := range q.entries {
		if r.Attempts < maxAttempts && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (q *memQueue) CompleteRedelivery(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	q.completed = append(q.completed, id)
	return nil
}

func (q *memQueue) FailRedelivery(_ context.Context, id int64, _ string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[id].Attempts++
	return q.entries[id].Attempts, nil
}

func (q *memQueue) PurgeDeadRedeliveries(context.Context, int, time.Duration) (int64, error) {
	return 0, nil
}

func (q *memQueue) AppendMessageLog(_ context.Context, e model.MessageLogEntry) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logs = append(q.logs, e)
	return uuid.New(), nil
}

type scriptedDispatcher struct {
	mu    sync.Mutex
	fails int
	sent  []model.OutboundMessage
}

func (d *scriptedDispatcher) Send(_ context.Context, msg model.OutboundMessage) (model.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	if d.fails > 0 {
		d.fails--
		return model.DispatchResult{}, errors.New("provider down")
	}
	return model.DispatchResult{ProviderMessageID: "p-1"}, nil
}

func queued(id int64) model.Redelivery {
	return model.Redelivery{ID: id, MessageLogID: uuid.New(), TemplateName: "welcome",
		Recipient: "ana@example.com", Subject: "Hi", Body: "Body", Attempts: 1}
}

func TestRedeliveryWorker_DeliversAndLogs(t *testing.T) {
	q := newMemQueue(queued(1))
	d := &scriptedDispatcher{}
	w := notify.NewRedeliveryWorker(q, d, testLogger(), notify.RedeliveryConfig{MaxAttempts: 3})

	assert.Equal(t, 1, w.ProcessBatch(context.Background()))
	assert.Equal(t, []int64{1}, q.completed)
	require.Len(t, q.logs, 1)
	assert.Equal(t, model.MessageSent, q.logs[0].Status)
	assert.Equal(t, 2, q.logs[0].Attempt)
	assert.Equal(t, "p-1", *q.logs[0].ProviderMessageID)
	require.Len(t, d.sent, 1)
	assert.Equal(t, "Body", d.sent[0].Body)
}

func TestRedeliveryWorker_StopsAtMaxAttempts(t *testing.T) {
	q := newMemQueue(queued(7))
	d := &scriptedDispatcher{fails: 10}
	w := notify.NewRedeliveryWorker(q, d, testLogger(), notify.RedeliveryConfig{MaxAttempts: 3})

	ctx := context.Background()
	assert.Zero(t, w.ProcessBatch(ctx))
	assert.Zero(t, w.ProcessBatch(ctx))
	assert.Zero(t, w.ProcessBatch(ctx), "exhausted entry is no longer claimed")

	assert.Len(t, d.sent, 2)
	assert.Equal(t, 3, q.entries[7].Attempts)
	require.Len(t, q.logs, 2)
	for _, l := range q.logs {
		assert.Equal(t, model.MessageFailed, l.Status)
		assert.Equal(t, "provider down", *l.Error)
	}
	assert.Empty(t, q.completed)
}

func TestRedeliveryWorker_StartDrain(t *testing.T) {
	q := newMemQueue(queued(1), queued(2))
	d := &scriptedDispatcher{}
	w := notify.NewRedeliveryWorker(q, d, testLogger(), notify.RedeliveryConfig{PollInterval: time.Hour})

	w.Start(context.Background())
	w.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Drain(ctx)

	assert.ElementsMatch(t, []int64{1, 2}, q.completed, "drain runs a final batch")
}

func TestRedeliveryWorker_DrainAfterRunContextCancelled(t *testing.T) {
	q := newMemQueue(queued(3))
	d := &scriptedDispatcher{}
	w := notify.NewRedeliveryWorker(q, d, testLogger(), notify.RedeliveryConfig{PollInterval: time.Hour})

	runCtx, stop := context.WithCancel(context.Background())
	w.Start(runCtx)
	stop()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, q.completed, "cancelling the start context does not run a batch")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Drain(ctx)

	assert.Equal(t, []int64{3}, q.completed)
}
