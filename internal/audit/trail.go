package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"risk-core/internal/events"
	"risk-core/pkg/errs"
)

const (
	DefaultCapacity = 500
	DefaultRecent   = 50
	defaultQueue    = 1024
)

// Transition values.
const (
	Activated   = "activated"
	Deactivated = "deactivated"
)

// Event is one gate state flip. It is also the audit log line format.
type Event struct {
	TS     time.Time `json:"ts"`
	Gate   string    `json:"gate"`
	Event  string    `json:"event"`
	Symbol string    `json:"symbol,omitempty"`
	Meta   *Meta     `json:"meta,omitempty"`
}

// Meta is the P&L/limit snapshot taken at the moment of the flip.
type Meta struct {
	PnLTodayUSD float64 `json:"pnl_today_usd"`
	LimitUSD    float64 `json:"limit_usd"`
}

// Options configures a Trail.
type Options struct {
	Path      string // empty disables the durable log
	Capacity  int
	QueueSize int
	Publisher events.Publisher
	Logger    zerolog.Logger
}

type writeReq struct {
	evt  Event
	sync chan struct{}
}

// Trail keeps the most recent events in memory and appends every event to a JSONL file
// from a single background writer, so file order matches Append order.
type Trail struct {
	mu     sync.RWMutex
	ring   []Event
	head   int // index of the oldest event once the ring is full
	size   int
	closed bool

	path    string
	writes  chan writeReq
	wg      sync.WaitGroup
	dropped atomic.Uint64
	pub     events.Publisher
	log     zerolog.Logger
}

// New starts the background writer.
func New(opts Options) (*Trail, error) {
	if opts.Capacity <= 0 || opts.Capacity > DefaultCapacity {
		opts.Capacity = DefaultCapacity
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueue
	}
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	t := &Trail{
		ring:   make([]Event, opts.Capacity),
		path:   opts.Path,
		writes: make(chan writeReq, opts.QueueSize),
		pub:    opts.Publisher,
		log:    opts.Logger,
	}
	t.wg.Add(1)
	go t.writer()
	return t, nil
}

// Append records evt in memory and queues it for the durable log. It never blocks;
// when the writer queue is full the file copy of evt is dropped.
func (t *Trail) Append(evt Event) {
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}

	t.mu.Lock()
	if t.size < len(t.ring) {
		t.ring[(t.head+t.size)%len(t.ring)] = evt
		t.size++
	} else {
		t.ring[t.head] = evt
		t.head = (t.head + 1) % len(t.ring)
	}
	if !t.closed {
		select {
		case t.writes <- writeReq{evt: evt}:
		default:
			t.dropped.Add(1)
			t.log.Warn().Str("gate", evt.Gate).Msg("audit writer queue full, event kept in memory only")
		}
	}
	t.mu.Unlock()

	if t.pub != nil {
		t.pub.Publish(events.EventRiskAudit, evt)
	}
}

// Recent returns up to limit events, oldest first. Non-positive limits mean DefaultRecent.
func (t *Trail) Recent(limit int) []Event {
	if limit <= 0 {
		limit = DefaultRecent
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit > t.size {
		limit = t.size
	}
	out := make([]Event, 0, limit)
	start := t.size - limit
	for i := start; i < t.size; i++ {
		out = append(out, t.ring[(t.head+i)%len(t.ring)])
	}
	return out
}

// Len is the number of events held in memory.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Dropped counts events that never reached the durable log.
func (t *Trail) Dropped() uint64 {
	return t.dropped.Load()
}

// Sync waits until every event appended so far has been written.
func (t *Trail) Sync() {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return
	}
	done := make(chan struct{})
	t.writes <- writeReq{sync: done}
	t.mu.RUnlock()
	<-done
}

// Export opens the full durable log for streaming. errs.ErrNotFound if nothing was written yet.
func (t *Trail) Export() (io.ReadCloser, error) {
	if t.path == "" {
		return nil, errs.ErrNotFound
	}
	t.Sync()
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return f, nil
}

// Path returns the durable log location.
func (t *Trail) Path() string { return t.path }

// Close flushes pending writes and stops the writer.
func (t *Trail) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.writes)
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *Trail) writer() {
	defer t.wg.Done()

	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for req := range t.writes {
		if req.sync != nil {
			close(req.sync)
			continue
		}
		if t.path == "" {
			continue
		}
		if f == nil {
			var err error
			f, err = os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				t.dropped.Add(1)
				t.log.Warn().Err(err).Msg("open audit log failed (ignored)")
				f = nil
				continue
			}
		}
		line, err := json.Marshal(req.evt)
		if err != nil {
			t.dropped.Add(1)
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			t.dropped.Add(1)
			t.log.Warn().Err(err).Msg("append audit log failed (ignored)")
		}
	}
}

// ReadTail returns the last n events of the log at path, skipping malformed lines.
func ReadTail(path string, n int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if n <= 0 {
		n = DefaultRecent
	}
	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var evt Event
		if err := json.Unmarshal(sc.Bytes(), &evt); err != nil || evt.Gate == "" {
			continue
		}
		out = append(out, evt)
		if len(out) > n {
			out = out[1:]
		}
	}
	return out, sc.Err()
}
