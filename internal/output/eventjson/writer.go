package eventjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"factoryhub/internal/logger"
	"factoryhub/pkg/models"
)

// Writer appends canonical events to a JSON lines file, one event per line.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewWriter opens path for appending, creating parent directories. With
// truncate set an existing file is emptied first.
func NewWriter(path string, truncate bool) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	logger.Infof("Event JSON writer initialized: %s", path)
	buf := bufio.NewWriter(f)
	return &Writer{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// WriteEvents writes a batch and flushes it to the file.
func (w *Writer) WriteEvents(events []*models.CanonicalEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, ev := range events {
		if err := w.enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush events: %w", err)
	}
	return nil
}

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
