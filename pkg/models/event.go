package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// EventType is the canonical event type.
type EventType string

const (
	CodePushed       EventType = "CODE_PUSHED"
	PROpened         EventType = "PR_OPENED"
	PRUpdated        EventType = "PR_UPDATED"
	PRClosed         EventType = "PR_CLOSED"
	CIStarted        EventType = "CI_STARTED"
	CICompleted      EventType = "CI_COMPLETED"
	ReleasePublished EventType = "RELEASE_PUBLISHED"
	Heartbeat        EventType = "HEARTBEAT"
)

// Valid reports whether t is one of the canonical types.
func (t EventType) Valid() bool {
	switch t {
	case CodePushed, PROpened, PRUpdated, PRClosed, CIStarted, CICompleted, ReleasePublished, Heartbeat:
		return true
	}
	return false
}

// Status is the type-dependent outcome of an event.
type Status string

const (
	StatusInfo    Status = "info"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusWarning Status = "warning"
)

// EntityKind tags what an event refers to.
type EntityKind string

const (
	KindPullRequest EntityKind = "pull_request"
	KindCommitBatch EntityKind = "commit_batch"
	KindRelease     EntityKind = "release"
	KindUnknown     EntityKind = "unknown"
)

// Station is a visualization routing hint.
type Station string

const (
	StationReceivingDock Station = "RECEIVING_DOCK"
	StationBlueprintLoft Station = "BLUEPRINT_LOFT"
	StationAssemblyLine  Station = "ASSEMBLY_LINE"
	StationQAGate        Station = "QA_GATE"
	StationLaunchBay     Station = "LAUNCH_BAY"
	StationControlRoom   Station = "CONTROL_ROOM"
)

// SourceGitHub is the only provenance tag produced today.
const SourceGitHub = "github"

// Meta keys written by the normalizer and the rule tagger.
const (
	MetaCommitCount = "commit_count"
	MetaRef         = "ref"
	MetaWorkflow    = "workflow"
	MetaBranch      = "branch"
	MetaRunID       = "run_id"
	MetaDurationMS  = "duration_ms"
	MetaMerged      = "merged"
	MetaRuleTags    = "rule_tags"
)

// Entity references the long-lived thing an event is about.
type Entity struct {
	Kind  EntityKind `json:"kind"`
	Key   string     `json:"key"`
	Title string     `json:"title,omitempty"`
	URL   string     `json:"url,omitempty"`
}

// CanonicalEvent is the provider-agnostic event every component works with.
type CanonicalEvent struct {
	ID          string                 `json:"id"`
	TS          int64                  `json:"ts"`
	Source      string                 `json:"source"`
	Org         string                 `json:"org"`
	Repo        string                 `json:"repo"`
	Type        EventType              `json:"type"`
	Status      Status                 `json:"status"`
	Entity      Entity                 `json:"entity"`
	StationHint Station                `json:"station_hint,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

// SetMeta stores a meta value, allocating the map on first use.
func (e *CanonicalEvent) SetMeta(key string, value interface{}) {
	if e.Meta == nil {
		e.Meta = make(map[string]interface{})
	}
	e.Meta[key] = value
}

// MetaString returns a meta value as a string, or "" when absent.
func (e *CanonicalEvent) MetaString(name string) string {
	if e == nil || e.Meta == nil {
		return ""
	}
	v, ok := e.Meta[name]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%f", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// MetaNumber returns a numeric meta value. Values that decoded from JSON
// as float64 or json.Number are accepted alongside native integers.
func (e *CanonicalEvent) MetaNumber(name string) (float64, bool) {
	if e == nil || e.Meta == nil {
		return 0, false
	}
	var f float64
	switch val := e.Meta[name].(type) {
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case float64:
		f = val
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// PRKey identifies a pull request across repositories.
func (e *CanonicalEvent) PRKey() string {
	return e.Org + "/" + e.Repo + "#" + e.Entity.Key
}

// Hello is the handshake frame sent to each push subscriber on connect.
// Its type is deliberately outside the canonical enumeration.
type Hello struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// HelloType is the Hello frame type.
const HelloType = "hello"
