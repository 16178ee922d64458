package signalqueue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(key string) Job {
	return Job{
		Symbol:         "BTCUSDT",
		Timeframe:      "15m",
		CloseTime:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		IdempotencyKey: key,
		JobID:          key,
		Payload:        map[string]any{"side": "long"},
	}
}

func TestQueueFullTimesOut(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), job("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, job("b"))
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, 1, q.Len())
}

func TestQueueClosedRejects(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Enqueue(context.Background(), job("a")))
	q.Close()
	q.Close()

	err := q.Enqueue(context.Background(), job("b"))
	assert.ErrorIs(t, err, ErrUnavailable)

	var got []string
	q.Drain(context.Background(), func(j Job) { got = append(got, j.JobID) })
	assert.Equal(t, []string{"a"}, got)
}

func TestPersistentQueueRecoversPending(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	pq, err := NewPersistentQueue(dir, 10, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, pq.Enqueue(ctx, job("a")))
	require.NoError(t, pq.Enqueue(ctx, job("b")))
	require.NoError(t, pq.Enqueue(ctx, job("c")))

	// consume one, then "crash"
	first := <-pq.queue.Chan()
	pq.MarkComplete(first.key())
	pq.Close()
	assert.Equal(t, uint64(3), pq.Metrics().Written)
	assert.Equal(t, uint64(1), pq.Metrics().Completed)

	again, err := NewPersistentQueue(dir, 10, zerolog.Nop())
	require.NoError(t, err)
	defer again.Close()
	n, err := again.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, again.Len())

	drainCtx, cancel := context.WithCancel(ctx)
	var got []Job
	again.Drain(drainCtx, func(j Job) {
		got = append(got, j)
		if len(got) == 2 {
			cancel()
		}
	})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].JobID)
	assert.Equal(t, "c", got[1].JobID)
	assert.Equal(t, "long", got[0].Payload["side"])
	assert.Equal(t, uint64(2), again.Metrics().Completed)
}

func TestPersistentQueueClosedIsUnavailable(t *testing.T) {
	pq, err := NewPersistentQueue(t.TempDir(), 1, zerolog.Nop())
	require.NoError(t, err)
	pq.Close()
	assert.ErrorIs(t, pq.Enqueue(context.Background(), job("a")), ErrUnavailable)
}

func TestPersistentQueueKeepsOverflowInWAL(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	pq, err := NewPersistentQueue(dir, 4, zerolog.Nop())
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, pq.Enqueue(ctx, job(k)))
	}
	pq.Close()

	small, err := NewPersistentQueue(dir, 1, zerolog.Nop())
	require.NoError(t, err)
	n, err := small.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	first := <-small.queue.Chan()
	assert.Equal(t, "a", first.JobID)
	small.MarkComplete(first.key())
	small.Close()

	big, err := NewPersistentQueue(dir, 4, zerolog.Nop())
	require.NoError(t, err)
	defer big.Close()
	n, err = big.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(2), big.Metrics().Recovered)
}

func TestPersistentQueueRefusedJobIsNotRecovered(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	pq, err := NewPersistentQueue(dir, 1, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, pq.Enqueue(ctx, job("a")))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pq.Enqueue(short, job("b")), ErrUnavailable)
	assert.Equal(t, uint64(1), pq.Metrics().Cancelled)
	assert.NotContains(t, pq.inflight, "b")
	pq.Close()

	again, err := NewPersistentQueue(dir, 4, zerolog.Nop())
	require.NoError(t, err)
	defer again.Close()
	n, err := again.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "a", (<-again.queue.Chan()).JobID)
}

func TestWALReenqueueAfterCancelIsPending(t *testing.T) {
	w, err := openWAL(filepath.Join(t.TempDir(), walFileName))
	require.NoError(t, err)
	defer w.close()

	require.NoError(t, w.append(walEnqueue, job("b"), false))
	require.NoError(t, w.append(walCancel, job("b"), false))
	st, err := w.load()
	require.NoError(t, err)
	assert.Empty(t, st.pending)

	require.NoError(t, w.append(walEnqueue, job("b"), true))
	st, err = w.load()
	require.NoError(t, err)
	require.Len(t, st.pending, 1)
	assert.Equal(t, "b", st.pending[0].JobID)
}

func TestWALSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	pq, err := NewPersistentQueue(dir, 4, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, pq.Enqueue(context.Background(), job("a")))
	_, err = pq.wal.file.WriteString("{broken\n")
	require.NoError(t, err)
	pq.Close()

	w, err := openWAL(filepath.Join(dir, walFileName))
	require.NoError(t, err)
	defer w.close()
	st, err := w.load()
	require.NoError(t, err)
	assert.Equal(t, 1, st.malformed)
	require.Len(t, st.pending, 1)
	assert.Equal(t, "a", st.pending[0].JobID)
}
