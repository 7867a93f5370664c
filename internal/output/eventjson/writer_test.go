package eventjson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"factoryhub/pkg/models"
)

func readLines(t *testing.T, path string) []models.CanonicalEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var out []models.CanonicalEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev models.CanonicalEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")

	w, err := NewWriter(path, false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteEvents([]*models.CanonicalEvent{{ID: "1", Type: models.CodePushed}, {ID: "2", Type: models.PROpened}}); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	w, err = NewWriter(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.WriteEvents([]*models.CanonicalEvent{{ID: "3", Type: models.CICompleted}}); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	w.Close()

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[2].ID != "3" || lines[2].Type != models.CICompleted {
		t.Fatalf("unexpected last line %+v", lines[2])
	}
}

func TestWriterTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte("stale\n"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, err := NewWriter(path, true)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteEvents([]*models.CanonicalEvent{{ID: "fresh"}}); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	w.Close()

	lines := readLines(t, path)
	if len(lines) != 1 || lines[0].ID != "fresh" {
		t.Fatalf("expected only the fresh event, got %+v", lines)
	}
}
