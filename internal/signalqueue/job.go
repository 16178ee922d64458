package signalqueue

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the queue cannot take a job: closed, full
// until the caller's deadline, or unreachable.
var ErrUnavailable = errors.New("signal queue unavailable")

// Job is an admitted signal handed to the downstream worker.
type Job struct {
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	CloseTime      time.Time      `json:"closeTime"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Payload        map[string]any `json:"payload,omitempty"`
	JobID          string         `json:"jobId,omitempty"`
}

// Enqueuer is implemented by every queue adapter.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// key identifies a job for WAL bookkeeping.
func (j Job) key() string {
	if j.JobID != "" {
		return j.JobID
	}
	return j.IdempotencyKey
}
