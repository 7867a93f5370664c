package rules

import (
	"os"
	"path/filepath"
	"testing"

	"factoryhub/pkg/models"
)

const failingMainRule = `title: Failing CI on main
id: ci-main-failure
level: high
logsource:
  product: github
detection:
  selection:
    type: CI_COMPLETED
    status: failure
    branch: main
  condition: selection
`

const releaseRule = `title: Release candidate published
id: rc-release
logsource:
  product: github
detection:
  selection:
    type: RELEASE_PUBLISHED
    entity_key|contains: '-rc'
  condition: selection
`

const windowsRule = `title: Windows only
logsource:
  product: windows
detection:
  selection:
    Image: cmd.exe
  condition: selection
`

const keywordRule = `title: Deploy keyword
logsource:
  product: github
detection:
  keywords:
    - deploy
  condition: keywords
`

func writeRules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatalf("write rule: %v", err)
		}
	}
	return dir
}

func TestSigmaEngineLoadStats(t *testing.T) {
	dir := writeRules(t, map[string]string{
		"ci.yml":      failingMainRule,
		"release.yml": releaseRule,
		"win.yaml":    windowsRule,
		"keyword.yml": keywordRule,
		"broken.yml":  "title: [unterminated",
		"notes.txt":   "ignored",
	})

	engine, stats, err := NewSigmaEngine(dir)
	if err != nil {
		t.Fatalf("NewSigmaEngine: %v", err)
	}
	if stats.TotalFiles != 5 {
		t.Fatalf("expected 5 rule files, got %d", stats.TotalFiles)
	}
	if stats.Loaded != 2 || engine.Len() != 2 {
		t.Fatalf("expected 2 loaded rules, got %d", stats.Loaded)
	}
	if stats.SkippedDatasource != 1 {
		t.Fatalf("expected windows rule skipped, got %d", stats.SkippedDatasource)
	}
	if stats.SkippedComplex != 1 {
		t.Fatalf("expected keyword rule skipped, got %d", stats.SkippedComplex)
	}
	if stats.SkippedInvalid != 1 {
		t.Fatalf("expected broken rule skipped, got %d", stats.SkippedInvalid)
	}
}

func TestSigmaEngineTagsMatchingEvents(t *testing.T) {
	dir := writeRules(t, map[string]string{"ci.yml": failingMainRule, "release.yml": releaseRule})
	engine, _, err := NewSigmaEngine(dir)
	if err != nil {
		t.Fatalf("NewSigmaEngine: %v", err)
	}

	failing := &models.CanonicalEvent{
		Type:   models.CICompleted,
		Status: models.StatusFailure,
		Entity: models.Entity{Kind: models.KindCommitBatch, Key: "1"},
		Meta:   map[string]interface{}{models.MetaBranch: "main", models.MetaDurationMS: int64(10)},
	}
	tags := engine.Apply(failing)
	if len(tags) != 1 {
		t.Fatalf("expected 1 tag, got %d", len(tags))
	}
	if tags[0].ID != "ci-main-failure" || tags[0].Level != "high" || tags[0].Name != "Failing CI on main" {
		t.Fatalf("unexpected tag %+v", tags[0])
	}

	failing.Meta[models.MetaBranch] = "feature"
	if tags := engine.Apply(failing); len(tags) != 0 {
		t.Fatalf("expected no tags for feature branch, got %+v", tags)
	}

	release := &models.CanonicalEvent{
		Type:   models.ReleasePublished,
		Status: models.StatusSuccess,
		Entity: models.Entity{Kind: models.KindRelease, Key: "v2.0.0-rc1"},
	}
	tags = engine.Apply(release)
	if len(tags) != 1 || tags[0].ID != "rc-release" || tags[0].Level != "medium" {
		t.Fatalf("unexpected release tags %+v", tags)
	}
}

func TestSigmaEngineSingleFile(t *testing.T) {
	dir := writeRules(t, map[string]string{"ci.yml": failingMainRule, "notes.txt": "x"})

	if _, _, err := NewSigmaEngine(filepath.Join(dir, "ci.yml")); err != nil {
		t.Fatalf("single file: %v", err)
	}
	if _, _, err := NewSigmaEngine(filepath.Join(dir, "notes.txt")); err == nil {
		t.Fatalf("expected error for non-yaml file")
	}
	if _, _, err := NewSigmaEngine(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestNilAndNoopEngines(t *testing.T) {
	var engine *SigmaEngine
	if tags := engine.Apply(&models.CanonicalEvent{}); tags != nil {
		t.Fatalf("expected nil tags from nil engine")
	}
	noop := &NoopEngine{}
	if tags := noop.Apply(&models.CanonicalEvent{}); tags != nil {
		t.Fatalf("expected nil tags from noop engine")
	}
}
