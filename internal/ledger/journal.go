package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const maxLineBytes = 1 << 20

// Journal is the append-only JSONL trade log.
type Journal struct {
	path string
	mu   sync.Mutex
}

// OpenJournal prepares the directory for path. The file itself is created on first append.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &Journal{path: path}, nil
}

// Path returns the log file location.
func (j *Journal) Path() string { return j.path }

// Append writes one record as a single line.
func (j *Journal) Append(rec TradeRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trade log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append trade log: %w", err)
	}
	return f.Close()
}

// Open returns a reader over the whole log. A missing file yields fs.ErrNotExist.
func (j *Journal) Open() (io.ReadCloser, error) {
	return os.Open(j.path)
}

// scanLines calls fn for every non-empty line in r.
func scanLines(r io.Reader, fn func(line []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		fn(line)
	}
	return sc.Err()
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
