package signalqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const walFileName = "signal_queue.wal"

// PersistentQueue is a Queue whose jobs are written to a WAL before they are
// accepted, so admitted signals survive a restart until a consumer completes them.
type PersistentQueue struct {
	queue *Queue
	log   zerolog.Logger

	mu       sync.Mutex
	wal      *wal
	inflight map[string]struct{}
	closed   bool
	walOpen  bool
	// enqueues tracks Enqueue calls between the WAL write and the hand-off,
	// so Close keeps the WAL open until their cancel entries are written.
	enqueues sync.WaitGroup

	written, recovered, completed, cancelled, failed atomic.Uint64
}

// PersistentQueueMetrics tracks persistence statistics.
type PersistentQueueMetrics struct {
	Written   uint64
	Recovered uint64
	Completed uint64
	Cancelled uint64
	Failed    uint64
}

// NewPersistentQueue opens (or creates) signal_queue.wal under walDir.
func NewPersistentQueue(walDir string, queueSize int, log zerolog.Logger) (*PersistentQueue, error) {
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}
	w, err := openWAL(filepath.Join(walDir, walFileName))
	if err != nil {
		return nil, err
	}
	return &PersistentQueue{
		queue:    NewQueue(queueSize),
		log:      log,
		wal:      w,
		walOpen:  true,
		inflight: make(map[string]struct{}),
	}, nil
}

// Recover loads jobs that were written but never completed and puts as many
// as fit back on the queue. Jobs that do not fit stay in the WAL for the next
// start. Call before Drain.
func (pq *PersistentQueue) Recover(ctx context.Context) (int, error) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	st, err := pq.wal.load()
	if err != nil {
		return 0, err
	}
	if st.malformed > 0 {
		pq.log.Warn().Int("lines", st.malformed).Msg("WAL lines skipped")
	}

	n := 0
	for _, job := range st.pending {
		if ctx.Err() != nil || !pq.queue.offer(job) {
			break
		}
		pq.inflight[job.key()] = struct{}{}
		n++
	}
	pq.recovered.Add(uint64(n))

	if st.completed > 0 || st.malformed > 0 {
		if err := pq.wal.rewrite(st.pending); err != nil {
			pq.log.Warn().Err(err).Msg("WAL compaction failed")
		}
	}
	pq.log.Info().
		Int("recovered", n).
		Int("left_in_wal", len(st.pending)-n).
		Int("completed", st.completed).
		Msg("signal WAL recovered")
	return n, nil
}

// Enqueue makes the job durable, then hands it to the in-memory queue.
// Any failure is reported as ErrUnavailable. A job the queue refuses is
// cancelled in the WAL so a later Recover does not deliver it.
func (pq *PersistentQueue) Enqueue(ctx context.Context, job Job) error {
	pq.mu.Lock()
	if pq.closed {
		pq.mu.Unlock()
		return fmt.Errorf("enqueue %s: %w", job.Symbol, ErrUnavailable)
	}
	if err := pq.wal.append(walEnqueue, job, true); err != nil {
		pq.mu.Unlock()
		pq.failed.Add(1)
		return fmt.Errorf("enqueue %s: WAL write: %w: %w", job.Symbol, ErrUnavailable, err)
	}
	pq.inflight[job.key()] = struct{}{}
	pq.written.Add(1)
	pq.enqueues.Add(1)
	pq.mu.Unlock()
	defer pq.enqueues.Done()

	if err := pq.queue.Enqueue(ctx, job); err != nil {
		pq.cancel(job)
		return err
	}
	return nil
}

// cancel undoes the ENQUEUE entry of a job that never reached the queue.
// The entry is synced: the caller has already been told the job was refused.
func (pq *PersistentQueue) cancel(job Job) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	delete(pq.inflight, job.key())
	pq.cancelled.Add(1)
	if !pq.walOpen {
		return
	}
	if err := pq.wal.append(walCancel, job, true); err != nil {
		pq.failed.Add(1)
		pq.log.Error().Err(err).Str("job", job.key()).Msg("WAL cancel write failed, job will be redelivered")
	}
}

// MarkComplete records that a job was consumed. The entry is not synced; a
// crash before the next sync redelivers the job under the same idempotency key.
func (pq *PersistentQueue) MarkComplete(key string) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if _, ok := pq.inflight[key]; !ok || !pq.walOpen {
		return
	}
	if err := pq.wal.append(walComplete, Job{JobID: key}, false); err != nil {
		pq.log.Warn().Err(err).Str("job", key).Msg("WAL complete write failed")
	}
	delete(pq.inflight, key)
	pq.completed.Add(1)
}

// Drain runs handler for each job and marks it complete afterwards.
func (pq *PersistentQueue) Drain(ctx context.Context, handler func(Job)) {
	pq.queue.Drain(ctx, func(j Job) {
		handler(j)
		pq.MarkComplete(j.key())
	})
}

func (pq *PersistentQueue) Metrics() PersistentQueueMetrics {
	return PersistentQueueMetrics{
		Written:   pq.written.Load(),
		Recovered: pq.recovered.Load(),
		Completed: pq.completed.Load(),
		Cancelled: pq.cancelled.Load(),
		Failed:    pq.failed.Load(),
	}
}

func (pq *PersistentQueue) Len() int {
	return pq.queue.Len()
}

// Close stops accepting jobs, waits for enqueues already past the WAL write,
// and closes the WAL.
func (pq *PersistentQueue) Close() {
	pq.mu.Lock()
	if pq.closed {
		pq.mu.Unlock()
		return
	}
	pq.closed = true
	pq.mu.Unlock()

	pq.enqueues.Wait()
	pq.queue.Close()

	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.walOpen = false
	if err := pq.wal.close(); err != nil {
		pq.log.Warn().Err(err).Msg("WAL close failed")
	}
}
