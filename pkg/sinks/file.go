package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileSink appends one JSON line per record to a local file. A mutex
// serializes writes from concurrent workers.
type fileSink struct {
	id   string
	typ  string
	path string
	mu   sync.Mutex
	file *os.File
}

func newFileSink(_ context.Context, cfg SinkConfig, _ Logger) (Sink, error) {
	if cfg.File == nil {
		return nil, fmt.Errorf("sink %q missing file configuration", cfg.ID)
	}

	dir := filepath.Dir(cfg.File.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sink directory: %w", err)
		}
	}

	file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}

	return &fileSink{
		id:   cfg.ID,
		typ:  TypeFile,
		path: cfg.File.Path,
		file: file,
	}, nil
}

func (f *fileSink) ID() string   { return f.id }
func (f *fileSink) Type() string { return f.typ }

// Write appends the event as one JSON line.
func (f *fileSink) Write(ctx context.Context, evt RecordEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal record event: %w", err)
	}
	payload = append(payload, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.file.Write(payload); err != nil {
		return fmt.Errorf("write record to %s: %w", f.path, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (f *fileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
