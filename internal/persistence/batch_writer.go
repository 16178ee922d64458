package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBatchRows     = 100
	defaultBatchInterval = time.Second
	commitTimeout        = 5 * time.Second
)

// Row is one mirrored insert.
type Row struct {
	Table string
	Query string
	Args  []any
}

// BatchStats counts what the writer has committed or lost.
type BatchStats struct {
	Rows          uint64    `json:"rows"`
	Batches       uint64    `json:"batches"`
	Errors        uint64    `json:"errors"`
	Dropped       uint64    `json:"dropped"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlush     time.Time `json:"last_flush,omitzero"`
}

// BatchWriter owns a single goroutine that collects rows and commits them in
// one transaction per batch, on size or on a timer. Write never blocks: when
// the inbox is full the row is dropped and counted.
type BatchWriter struct {
	db       *sql.DB
	inbox    chan Row
	flushReq chan chan error
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	maxRows  int
	interval time.Duration
	log      zerolog.Logger

	rows, batches, errors, dropped atomic.Uint64
	lastBatch                      atomic.Int64
	lastFlush                      atomic.Int64
}

// NewBatchWriter starts the writer loop. maxRows bounds a transaction and
// interval bounds how long a row may wait.
func NewBatchWriter(db *sql.DB, maxRows int, interval time.Duration, log zerolog.Logger) *BatchWriter {
	if maxRows <= 0 {
		maxRows = defaultBatchRows
	}
	if interval <= 0 {
		interval = defaultBatchInterval
	}
	bw := &BatchWriter{
		db:       db,
		inbox:    make(chan Row, maxRows*4),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		maxRows:  maxRows,
		interval: interval,
		log:      log,
	}
	go bw.run()
	return bw
}

// Write hands a row to the writer loop.
func (bw *BatchWriter) Write(r Row) {
	select {
	case <-bw.done:
		bw.dropped.Add(1)
		return
	default:
	}
	select {
	case bw.inbox <- r:
	default:
		bw.dropped.Add(1)
		bw.log.Warn().Str("table", r.Table).Msg("mirror inbox full, row dropped")
	}
}

// Flush commits every row written so far and reports the commit error, if any.
func (bw *BatchWriter) Flush() error {
	reply := make(chan error, 1)
	select {
	case bw.flushReq <- reply:
		return <-reply
	case <-bw.stopped:
		return nil
	}
}

// Stats returns a snapshot of the counters.
func (bw *BatchWriter) Stats() BatchStats {
	st := BatchStats{
		Rows:          bw.rows.Load(),
		Batches:       bw.batches.Load(),
		Errors:        bw.errors.Load(),
		Dropped:       bw.dropped.Load(),
		LastBatchSize: int(bw.lastBatch.Load()),
	}
	if ns := bw.lastFlush.Load(); ns > 0 {
		st.LastFlush = time.Unix(0, ns).UTC()
	}
	return st
}

// Close commits what is left and stops the loop. Later writes are dropped.
func (bw *BatchWriter) Close() error {
	bw.stopOnce.Do(func() { close(bw.done) })
	<-bw.stopped
	return nil
}

func (bw *BatchWriter) run() {
	defer close(bw.stopped)
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	batch := make([]Row, 0, bw.maxRows)
	flush := func(trigger string) error {
		if len(batch) == 0 {
			return nil
		}
		err := bw.commit(batch)
		if err != nil {
			bw.log.Warn().Err(err).Str("trigger", trigger).Int("rows", len(batch)).Msg("mirror batch failed")
		}
		batch = batch[:0]
		return err
	}
	collect := func() {
		for {
			select {
			case r := <-bw.inbox:
				batch = append(batch, r)
			default:
				return
			}
		}
	}

	for {
		select {
		case r := <-bw.inbox:
			batch = append(batch, r)
			if len(batch) >= bw.maxRows {
				_ = flush("size")
			}
		case <-ticker.C:
			_ = flush("interval")
		case reply := <-bw.flushReq:
			collect()
			reply <- flush("manual")
		case <-bw.done:
			collect()
			_ = flush("close")
			return
		}
	}
}

// commit writes batch in one transaction, preparing each distinct query once.
func (bw *BatchWriter) commit(batch []Row) error {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		bw.errors.Add(1)
		return fmt.Errorf("begin mirror batch: %w", err)
	}
	prepared := make(map[string]*sql.Stmt)
	for _, r := range batch {
		stmt, ok := prepared[r.Query]
		if !ok {
			stmt, err = tx.PrepareContext(ctx, r.Query)
			if err != nil {
				_ = tx.Rollback()
				bw.errors.Add(1)
				return fmt.Errorf("prepare %s insert: %w", r.Table, err)
			}
			prepared[r.Query] = stmt
		}
		if _, err := stmt.ExecContext(ctx, r.Args...); err != nil {
			_ = tx.Rollback()
			bw.errors.Add(1)
			return fmt.Errorf("insert into %s: %w", r.Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		bw.errors.Add(1)
		return fmt.Errorf("commit mirror batch: %w", err)
	}

	bw.rows.Add(uint64(len(batch)))
	bw.batches.Add(1)
	bw.lastBatch.Store(int64(len(batch)))
	bw.lastFlush.Store(time.Now().UnixNano())
	bw.log.Debug().Int("rows", len(batch)).Msg("mirror batch committed")
	return nil
}
