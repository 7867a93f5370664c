// Package rawjson captures accepted webhook deliveries as JSON lines so
// they can be replayed later.
package rawjson

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"factoryhub/internal/logger"
)

// Writer appends one JSON document per line.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
	mu   sync.Mutex
}

// NewWriter opens path for appending.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	logger.Infof("Raw capture writer initialized: %s", path)
	return &Writer{file: f, buf: bufio.NewWriter(f)}, nil
}

// WriteRawMessages writes each message on its own line. Messages must not
// contain raw newlines.
func (w *Writer) WriteRawMessages(messages [][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, msg := range messages {
		if bytes.IndexByte(msg, '\n') >= 0 {
			return fmt.Errorf("capture message contains a newline")
		}
		if _, err := w.buf.Write(msg); err != nil {
			return fmt.Errorf("failed to write capture: %w", err)
		}
		if err := w.buf.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write capture: %w", err)
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the capture file.
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

// ReadAll calls fn for every non-empty line of a capture stream, stopping
// at the first error fn returns.
func ReadAll(r io.Reader, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
