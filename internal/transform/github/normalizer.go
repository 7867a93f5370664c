// Package github maps GitHub webhook payloads to canonical events.
package github

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"factoryhub/internal/logger"
	"factoryhub/pkg/models"
)

// Unknown is the org/repo sentinel used when the payload carries no
// usable repository name.
const Unknown = "unknown"

var prUpdateActions = map[string]bool{
	"ready_for_review": true,
	"reopened":         true,
	"synchronize":      true,
	"edited":           true,
}

var failureConclusions = map[string]bool{
	"failure":         true,
	"cancelled":       true,
	"timed_out":       true,
	"action_required": true,
	"startup_failure": true,
}

var warningConclusions = map[string]bool{
	"neutral": true,
	"skipped": true,
}

// Normalizer converts webhook payloads into canonical events. It stamps
// every event with a fresh id and a timestamp that never goes backwards
// across calls.
type Normalizer struct {
	mu     sync.Mutex
	lastTS int64
	now    func() time.Time
	newID  func() string
}

// NewNormalizer creates a normalizer using the wall clock and uuid ids.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Normalize decodes a raw body and maps it. The only error is a body that
// is not a JSON object.
func (n *Normalizer) Normalize(eventName string, body []byte) ([]*models.CanonicalEvent, error) {
	payload, err := DecodePayload(body)
	if err != nil {
		return nil, err
	}
	return n.NormalizeValue(eventName, payload), nil
}

// NormalizeValue maps an already decoded payload. Unknown event names and
// actions yield an empty slice.
func (n *Normalizer) NormalizeValue(eventName string, p Payload) []*models.CanonicalEvent {
	org, repo := splitRepo(p)

	switch eventName {
	case "push":
		return n.push(p, org, repo)
	case "pull_request":
		return n.pullRequest(p, org, repo)
	case "workflow_run":
		return n.workflowRun(p, org, repo)
	case "release":
		return n.release(p, org, repo)
	}

	logger.Debugf("Ignoring unrecognized event %q", eventName)
	return nil
}

func (n *Normalizer) push(p Payload, org, repo string) []*models.CanonicalEvent {
	e := n.base(org, repo, models.CodePushed)
	e.StationHint = models.StationReceivingDock

	key := "push"
	if ref, ok := p.Get("ref").NonEmpty(); ok {
		key = ref
	}
	if sha, ok := p.Get("after").NonEmpty(); ok {
		key = sha
	}
	e.Entity = models.Entity{Kind: models.KindCommitBatch, Key: key}

	if count, ok := p.Get("commits").Len(); ok {
		e.SetMeta(models.MetaCommitCount, count)
	}
	if ref, ok := p.Get("ref").String(); ok {
		e.SetMeta(models.MetaRef, ref)
	}
	return []*models.CanonicalEvent{e}
}

func (n *Normalizer) pullRequest(p Payload, org, repo string) []*models.CanonicalEvent {
	action, _ := p.Get("action").String()

	var e *models.CanonicalEvent
	switch {
	case action == "opened":
		e = n.base(org, repo, models.PROpened)
		e.StationHint = models.StationBlueprintLoft
	case prUpdateActions[action]:
		e = n.base(org, repo, models.PRUpdated)
		e.StationHint = models.StationBlueprintLoft
	case action == "closed":
		merged, _ := p.Get("pull_request.merged").Bool()
		e = n.base(org, repo, models.PRClosed)
		e.StationHint = models.StationBlueprintLoft
		if merged {
			e.StationHint = models.StationLaunchBay
			e.Status = models.StatusSuccess
		}
		e.SetMeta(models.MetaMerged, merged)
	default:
		logger.Debugf("Ignoring pull_request action %q", action)
		return nil
	}

	e.Entity = models.Entity{
		Kind:  models.KindPullRequest,
		Key:   prNumber(p),
		Title: optional(p.Get("pull_request.title")),
		URL:   optional(p.Get("pull_request.html_url")),
	}
	return []*models.CanonicalEvent{e}
}

func (n *Normalizer) workflowRun(p Payload, org, repo string) []*models.CanonicalEvent {
	status, _ := p.Get("workflow_run.status").String()

	eventType := models.CIStarted
	if status == "completed" {
		eventType = models.CICompleted
	}
	e := n.base(org, repo, eventType)
	e.StationHint = models.StationQAGate

	key := "workflow_run"
	if id, ok := p.Get("workflow_run.id").String(); ok {
		key = id
	}
	e.Entity = models.Entity{
		Kind:  models.KindCommitBatch,
		Key:   key,
		Title: optional(p.Get("workflow_run.name")),
		URL:   optional(p.Get("workflow_run.html_url")),
	}

	if eventType == models.CICompleted {
		conclusion, _ := p.Get("workflow_run.conclusion").String()
		e.Status = conclusionStatus(conclusion)
		if d, ok := runDuration(p); ok {
			e.SetMeta(models.MetaDurationMS, d)
		}
	}

	if name, ok := p.Get("workflow_run.name").String(); ok {
		e.SetMeta(models.MetaWorkflow, name)
	}
	if branch, ok := p.Get("workflow_run.head_branch").String(); ok {
		e.SetMeta(models.MetaBranch, branch)
	}
	if id, ok := p.Get("workflow_run.id").Int(); ok {
		e.SetMeta(models.MetaRunID, id)
	} else if id, ok := p.Get("workflow_run.id").String(); ok {
		e.SetMeta(models.MetaRunID, id)
	}
	return []*models.CanonicalEvent{e}
}

func (n *Normalizer) release(p Payload, org, repo string) []*models.CanonicalEvent {
	action, _ := p.Get("action").String()
	if action != "published" {
		logger.Debugf("Ignoring release action %q", action)
		return nil
	}

	e := n.base(org, repo, models.ReleasePublished)
	e.StationHint = models.StationLaunchBay
	e.Status = models.StatusSuccess

	key := "release"
	if tag, ok := p.Get("release.tag_name").String(); ok {
		key = tag
	}
	e.Entity = models.Entity{
		Kind:  models.KindRelease,
		Key:   key,
		Title: optional(p.Get("release.name")),
		URL:   optional(p.Get("release.html_url")),
	}
	return []*models.CanonicalEvent{e}
}

func (n *Normalizer) base(org, repo string, t models.EventType) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		ID:     n.newID(),
		TS:     n.stamp(),
		Source: models.SourceGitHub,
		Org:    org,
		Repo:   repo,
		Type:   t,
		Status: models.StatusInfo,
		Entity: models.Entity{Kind: models.KindUnknown, Key: Unknown},
	}
}

func (n *Normalizer) stamp() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ts := n.now().UnixMilli()
	if ts < n.lastTS {
		ts = n.lastTS
	}
	n.lastTS = ts
	return ts
}

func splitRepo(p Payload) (string, string) {
	full, _ := p.Get("repository.full_name").String()
	if !strings.Contains(full, "/") {
		return Unknown, Unknown
	}
	parts := strings.Split(full, "/")
	return parts[0], parts[1]
}

// prNumber prefers pull_request.number and falls back to the top-level
// number. A payload with neither keys the entity as "undefined", matching
// what the dashboard has always shown for such deliveries.
func prNumber(p Payload) string {
	if v, ok := p.Get("pull_request.number").String(); ok {
		return v
	}
	if v, ok := p.Get("number").String(); ok {
		return v
	}
	return "undefined"
}

func conclusionStatus(conclusion string) models.Status {
	switch {
	case conclusion == "success":
		return models.StatusSuccess
	case failureConclusions[conclusion]:
		return models.StatusFailure
	case warningConclusions[conclusion]:
		return models.StatusWarning
	default:
		return models.StatusInfo
	}
}

func runDuration(p Payload) (int64, bool) {
	started, ok := p.Get("workflow_run.run_started_at").Time()
	if !ok {
		return 0, false
	}
	ended, ok := p.Get("workflow_run.updated_at").Time()
	if !ok {
		ended, ok = p.Get("workflow_run.completed_at").Time()
	}
	if !ok || ended.Before(started) {
		return 0, false
	}
	return ended.Sub(started).Milliseconds(), true
}

func optional(f Field) string {
	s, _ := f.String()
	return s
}
