package state

import (
	"sync"
	"time"

	"factoryhub/pkg/models"
)

// CI status values reported by the tracker.
const (
	CISuccess = "success"
	CIFailure = "failure"
	CIUnknown = "unknown"
)

// CIState is the most recent CI completion observed.
type CIState struct {
	Status    string  `json:"status"`
	URL       *string `json:"url"`
	UpdatedAt *string `json:"updatedAt"`
}

// CITracker remembers the latest CI_COMPLETED event.
type CITracker struct {
	mu    sync.RWMutex
	state CIState
}

// NewCITracker starts in the unknown state.
func NewCITracker() *CITracker {
	return &CITracker{state: CIState{Status: CIUnknown}}
}

// Observe records ev when it is a CI completion and ignores anything else.
func (t *CITracker) Observe(ev *models.CanonicalEvent) {
	if ev == nil || ev.Type != models.CICompleted {
		return
	}

	next := CIState{Status: CIUnknown}
	switch ev.Status {
	case models.StatusSuccess:
		next.Status = CISuccess
	case models.StatusFailure:
		next.Status = CIFailure
	}
	if ev.Entity.URL != "" {
		url := ev.Entity.URL
		next.URL = &url
	}
	updated := time.UnixMilli(ev.TS).UTC().Format("2006-01-02T15:04:05.000Z")
	next.UpdatedAt = &updated

	t.mu.Lock()
	t.state = next
	t.mu.Unlock()
}

// Current returns the last observed state.
func (t *CITracker) Current() CIState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}
