package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-core/internal/events"
	"risk-core/internal/signalqueue"
	"risk-core/pkg/errs"
)

type stubGate struct {
	err   error
	calls []string
}

func (g *stubGate) EvaluateAdmission(symbol string) error {
	g.calls = append(g.calls, symbol)
	return g.err
}

type stubMetrics struct {
	mu          sync.Mutex
	enqueued    int
	unavailable int
	admissions  int
}

func (m *stubMetrics) IncEnqueued(string, string) {
	m.mu.Lock()
	m.enqueued++
	m.mu.Unlock()
}

func (m *stubMetrics) IncQueueUnavailable() {
	m.mu.Lock()
	m.unavailable++
	m.mu.Unlock()
}

func (m *stubMetrics) ObserveAdmission(time.Duration) {
	m.mu.Lock()
	m.admissions++
	m.mu.Unlock()
}

func (m *stubMetrics) ObserveEnqueue(time.Duration) {}

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(context.Context, signalqueue.Job) error { return q.err }

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newService(gate Gate, q signalqueue.Enqueuer, m Metrics, bus events.Publisher) *Service {
	return NewService(Options{
		Gate:           gate,
		Queue:          q,
		Metrics:        m,
		Bus:            bus,
		EnqueueTimeout: 20 * time.Millisecond,
		Clock:          func() time.Time { return fixedNow },
	})
}

func TestAdmitFillsDefaultsAndEnqueues(t *testing.T) {
	q := signalqueue.NewQueue(4)
	m := &stubMetrics{}
	gate := &stubGate{}
	bus := events.NewBus()
	admitted, unsub := bus.Subscribe(events.EventSignalAdmitted, 1)
	defer unsub()

	job, err := newService(gate, q, m, bus).Admit(context.Background(), Input{Symbol: " BTCUSDT ", Timeframe: "15m"})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", job.Symbol)
	assert.Equal(t, fixedNow, job.CloseTime)
	assert.NotEmpty(t, job.IdempotencyKey)
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, []string{"BTCUSDT"}, gate.calls)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, m.enqueued)
	assert.Equal(t, 1, m.admissions)
	assert.Equal(t, job, (<-admitted).(signalqueue.Job))
}

func TestAdmitKeepsCallerFields(t *testing.T) {
	q := signalqueue.NewQueue(1)
	job, err := newService(&stubGate{}, q, nil, nil).Admit(context.Background(), Input{
		Symbol:         "ETHUSDT",
		Timeframe:      "1h",
		CloseTime:      "2024-03-01T11:00:00+01:00",
		IdempotencyKey: "ETHUSDT|1h|1709287200",
		JobID:          "job-1",
		Payload:        map[string]any{"note": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), job.CloseTime)
	assert.Equal(t, "ETHUSDT|1h|1709287200", job.IdempotencyKey)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, "x", (<-q.Chan()).Payload["note"])
}

func TestAdmitValidation(t *testing.T) {
	svc := newService(&stubGate{}, signalqueue.NewQueue(1), nil, nil)
	cases := []struct {
		in    Input
		field string
	}{
		{Input{Timeframe: "15m"}, "symbol"},
		{Input{Symbol: "BTCUSDT"}, "timeframe"},
		{Input{Symbol: "BTCUSDT", Timeframe: "15m", CloseTime: "yesterday"}, "closeTime"},
	}
	for _, tc := range cases {
		_, err := svc.Admit(context.Background(), tc.in)
		var v *errs.ValidationError
		require.ErrorAs(t, err, &v)
		assert.Equal(t, tc.field, v.Field)
	}
}

func TestAdmitBlockedDoesNotEnqueue(t *testing.T) {
	q := signalqueue.NewQueue(1)
	m := &stubMetrics{}
	bus := events.NewBus()
	blocked, unsub := bus.Subscribe(events.EventSignalBlocked, 1)
	defer unsub()
	pb := &errs.PolicyBlocked{Gate: "manual_killswitch", Reason: "manual_killswitch"}

	_, err := newService(&stubGate{err: pb}, q, m, bus).Admit(context.Background(), Input{Symbol: "BTCUSDT", Timeframe: "15m"})
	got, ok := errs.AsPolicyBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "manual_killswitch", got.Reason)
	assert.False(t, errors.Is(err, errs.ErrCollaboratorUnavailable))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, m.enqueued)
	assert.Equal(t, *pb, (<-blocked).(errs.PolicyBlocked))
}

func TestAdmitQueueFailureIsUnavailable(t *testing.T) {
	m := &stubMetrics{}
	full := signalqueue.NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), signalqueue.Job{Symbol: "X"}))

	for _, q := range []signalqueue.Enqueuer{full, failingQueue{err: signalqueue.ErrUnavailable}, nil} {
		_, err := newService(&stubGate{}, q, m, nil).Admit(context.Background(), Input{Symbol: "BTCUSDT", Timeframe: "15m"})
		assert.ErrorIs(t, err, errs.ErrCollaboratorUnavailable)
		_, isPolicy := errs.AsPolicyBlocked(err)
		assert.False(t, isPolicy)
	}
	assert.Equal(t, 3, m.unavailable)
	assert.Equal(t, 0, m.enqueued)
}
