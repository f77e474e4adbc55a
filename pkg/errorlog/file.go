package errorlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultPath is where FileSink writes when no path is configured.
const DefaultPath = "data/error.log"

// FileSink appends each batch of entries to a file as one indented JSON
// array document.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a file sink. An empty path uses DefaultPath.
func NewFileSink(path string) *FileSink {
	if path == "" {
		path = DefaultPath
	}
	return &FileSink{path: path}
}

// Path returns the file the sink writes to.
func (f *FileSink) Path() string {
	return f.path
}

// Append implements Sink.
func (f *FileSink) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		harvestErrorLogWriteErrorsTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("marshal error log entries: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			harvestErrorLogWriteErrorsTotal.WithLabelValues("file").Inc()
			return fmt.Errorf("create error log directory: %w", err)
		}
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		harvestErrorLogWriteErrorsTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("open error log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		harvestErrorLogWriteErrorsTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("write error log: %w", err)
	}

	harvestErrorLogEntriesTotal.WithLabelValues("file").Add(float64(len(entries)))
	return nil
}

// ReadFile decodes every JSON document in an error log file written by
// FileSink and returns the entries in write order.
func ReadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read error log: %w", err)
	}

	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var batch []Entry
		if err := dec.Decode(&batch); err != nil {
			return nil, fmt.Errorf("decode error log: %w", err)
		}
		entries = append(entries, batch...)
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	return entries, nil
}
