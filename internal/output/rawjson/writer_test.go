package rawjson

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCaptureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture", "deliveries.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRawMessages([][]byte{[]byte(`{"event":"push"}`), []byte(`{"event":"release"}`)}); err != nil {
		t.Fatalf("WriteRawMessages: %v", err)
	}
	if err := w.WriteRawMessages([][]byte{[]byte("a\nb")}); err == nil {
		t.Fatalf("expected newline rejection")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []string
	if err := ReadAll(f, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	}); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(lines) != 2 || lines[1] != `{"event":"release"}` {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestReadAllStopsOnError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadAll(strings.NewReader("a\n\n  \nb\nc\n"), func(line []byte) error {
		calls++
		if string(line) == "b" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
