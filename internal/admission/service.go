// Package admission decides whether an inbound signal may reach the queue.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"risk-core/internal/events"
	"risk-core/internal/signalqueue"
	"risk-core/pkg/errs"
	"risk-core/pkg/id"
)

// DefaultEnqueueTimeout bounds how long an admitted signal waits on the queue.
const DefaultEnqueueTimeout = 2 * time.Second

// Gate is the risk decision the service consults.
type Gate interface {
	EvaluateAdmission(symbol string) error
}

// Metrics receives admission counters and latencies.
type Metrics interface {
	IncEnqueued(symbol, timeframe string)
	IncQueueUnavailable()
	ObserveAdmission(d time.Duration)
	ObserveEnqueue(d time.Duration)
}

// Input is the signal as submitted by a caller.
type Input struct {
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	CloseTime      string         `json:"closeTime,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	JobID          string         `json:"jobId,omitempty"`
}

type Options struct {
	Gate           Gate
	Queue          signalqueue.Enqueuer
	Metrics        Metrics
	Bus            events.Publisher
	EnqueueTimeout time.Duration
	Clock          func() time.Time
	Logger         zerolog.Logger
}

type Service struct {
	gate    Gate
	queue   signalqueue.Enqueuer
	metrics Metrics
	bus     events.Publisher
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		gate:    opts.Gate,
		queue:   opts.Queue,
		metrics: opts.Metrics,
		bus:     opts.Bus,
		timeout: opts.EnqueueTimeout,
		now:     opts.Clock,
		log:     opts.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultEnqueueTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// BuildJob validates input and fills defaults.
func (s *Service) BuildJob(in Input) (signalqueue.Job, error) {
	job := signalqueue.Job{
		Symbol:         strings.TrimSpace(in.Symbol),
		Timeframe:      strings.TrimSpace(in.Timeframe),
		IdempotencyKey: in.IdempotencyKey,
		Payload:        in.Payload,
		JobID:          in.JobID,
	}
	if job.Symbol == "" {
		return job, errs.Invalid("symbol", errs.ReasonRequired)
	}
	if job.Timeframe == "" {
		return job, errs.Invalid("timeframe", errs.ReasonRequired)
	}
	if in.CloseTime == "" {
		job.CloseTime = s.now().UTC()
	} else {
		t, err := time.Parse(time.RFC3339Nano, in.CloseTime)
		if err != nil {
			return job, errs.Invalid("closeTime", errs.ReasonInvalidTimestamp)
		}
		job.CloseTime = t.UTC()
	}
	if job.IdempotencyKey == "" {
		job.IdempotencyKey = id.NewAt(job.CloseTime)
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	return job, nil
}

// Admit builds the job, consults the gates and forwards it. Errors are
// *errs.ValidationError, *errs.PolicyBlocked, or wrap errs.ErrCollaboratorUnavailable.
func (s *Service) Admit(ctx context.Context, in Input) (signalqueue.Job, error) {
	job, err := s.BuildJob(in)
	if err != nil {
		return job, err
	}

	start := time.Now()
	err = s.gate.EvaluateAdmission(job.Symbol)
	if s.metrics != nil {
		s.metrics.ObserveAdmission(time.Since(start))
	}
	if err != nil {
		if pb, ok := errs.AsPolicyBlocked(err); ok && s.bus != nil {
			s.bus.Publish(events.EventSignalBlocked, *pb)
		}
		return job, err
	}

	if s.queue == nil {
		return job, s.unavailable(job, errors.New("no queue configured"))
	}

	enqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start = time.Now()
	err = s.queue.Enqueue(enqCtx, job)
	if s.metrics != nil {
		s.metrics.ObserveEnqueue(time.Since(start))
	}
	if err != nil {
		return job, s.unavailable(job, err)
	}

	if s.metrics != nil {
		s.metrics.IncEnqueued(job.Symbol, job.Timeframe)
	}
	if s.bus != nil {
		s.bus.Publish(events.EventSignalAdmitted, job)
	}
	s.log.Debug().
		Str("symbol", job.Symbol).
		Str("timeframe", job.Timeframe).
		Str("job_id", job.JobID).
		Str("idempotency_key", job.IdempotencyKey).
		Msg("signal enqueued")
	return job, nil
}

func (s *Service) unavailable(job signalqueue.Job, cause error) error {
	if s.metrics != nil {
		s.metrics.IncQueueUnavailable()
	}
	s.log.Warn().Err(cause).Str("symbol", job.Symbol).Str("job_id", job.JobID).Msg("signal queue unavailable")
	return fmt.Errorf("enqueue %s: %w: %w", job.Symbol, errs.ErrCollaboratorUnavailable, cause)
}
