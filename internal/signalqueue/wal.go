package signalqueue

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

type walAction string

const (
	walEnqueue  walAction = "ENQUEUE"
	walComplete walAction = "COMPLETE"
	walCancel   walAction = "CANCEL"
)

type walEntry struct {
	Action    walAction `json:"action"`
	Job       Job       `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// wal is an append-only JSONL log of ENQUEUE, COMPLETE and CANCEL entries.
// Callers serialize access.
type wal struct {
	path string
	file *os.File
}

func openWAL(path string) (*wal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}
	return &wal{path: path, file: f}, nil
}

// append writes one entry. sync forces it to disk before returning.
func (w *wal) append(action walAction, job Job, sync bool) error {
	data, err := json.Marshal(walEntry{Action: action, Job: job, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return err
	}
	if sync {
		return w.file.Sync()
	}
	return nil
}

// walState is what a replay of the log yields.
type walState struct {
	pending   []Job
	completed int
	malformed int
}

// load replays the log in order. A job is pending when its latest entry is an
// ENQUEUE, so a key re-enqueued after a CANCEL or COMPLETE is pending again.
func (w *wal) load() (walState, error) {
	var st walState
	f, err := os.Open(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("open WAL for recovery: %w", err)
	}
	defer f.Close()

	jobs := make(map[string]Job)
	done := make(map[string]bool)
	var order []string

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e walEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			st.malformed++
			continue
		}
		k := e.Job.key()
		switch e.Action {
		case walEnqueue:
			if _, seen := jobs[k]; !seen {
				order = append(order, k)
			}
			jobs[k] = e.Job
			delete(done, k)
		case walComplete, walCancel:
			done[k] = true
		default:
			st.malformed++
		}
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("scan WAL: %w", err)
	}

	for _, k := range order {
		if done[k] {
			st.completed++
			continue
		}
		st.pending = append(st.pending, jobs[k])
	}
	return st, nil
}

// rewrite atomically replaces the log with ENQUEUE entries for jobs.
func (w *wal) rewrite(jobs []Job) error {
	tmp := w.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, job := range jobs {
		if err = enc.Encode(walEntry{Action: walEnqueue, Job: job, Timestamp: time.Now().UTC()}); err != nil {
			break
		}
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	w.file.Close()
	renameErr := os.Rename(tmp, w.path)
	reopened, err := openWAL(w.path)
	if err != nil {
		return err
	}
	w.file = reopened.file
	return renameErr
}

func (w *wal) close() error {
	return w.file.Close()
}
