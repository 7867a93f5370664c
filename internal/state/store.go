// Package state owns the rolling event window and the module projection.
package state

import (
	"sort"
	"sync"
	"time"

	"factoryhub/internal/kpi"
	"factoryhub/pkg/models"
)

// Options controls window and projection sizes.
type Options struct {
	// MaxEvents is the rolling window size (default 300).
	MaxEvents int
	// MaxModules bounds the module projection (default 1000). Rows are
	// otherwise never removed; past the bound, inserting a new row drops
	// the least recently updated one.
	MaxModules int
	// SnapshotModules caps the modules returned by Snapshot (default 200).
	SnapshotModules int
}

// Store keeps the most recent events and the latest known state of every
// pull request and release they reference. All reads go through Snapshot.
type Store struct {
	mu      sync.RWMutex
	opts    Options
	events  []*models.CanonicalEvent
	modules map[string]*models.Module
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 300
	}
	if opts.MaxModules <= 0 {
		opts.MaxModules = 1000
	}
	if opts.SnapshotModules <= 0 {
		opts.SnapshotModules = 200
	}
	return &Store{
		opts:    opts,
		events:  make([]*models.CanonicalEvent, 0, opts.MaxEvents),
		modules: make(map[string]*models.Module),
		now:     time.Now,
	}
}

// Push appends ev to the window, evicting the oldest event when full, and
// upserts the module row it references. KPIs are not touched here.
func (s *Store) Push(ev *models.CanonicalEvent) {
	if ev == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
	if over := len(s.events) - s.opts.MaxEvents; over > 0 {
		for i := 0; i < over; i++ {
			s.events[i] = nil
		}
		s.events = s.events[over:]
	}

	if key, ok := ModuleKey(ev); ok {
		s.upsert(key, ev)
	}
}

// Snapshot returns KPIs recomputed from the current window, the newest
// modules and a copy of the window in arrival order.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	recent := make([]*models.CanonicalEvent, len(s.events))
	copy(recent, s.events)
	modules := make([]models.Module, 0, len(s.modules))
	for _, m := range s.modules {
		modules = append(modules, *m)
	}
	s.mu.RUnlock()

	sort.SliceStable(modules, func(i, j int) bool {
		if modules[i].UpdatedTS != modules[j].UpdatedTS {
			return modules[i].UpdatedTS > modules[j].UpdatedTS
		}
		return modules[i].Key < modules[j].Key
	})
	if len(modules) > s.opts.SnapshotModules {
		modules = modules[:s.opts.SnapshotModules]
	}

	return models.Snapshot{
		TS:      s.now().UnixMilli(),
		KPIs:    kpi.Compute(recent),
		Modules: modules,
		Recent:  recent,
	}
}

// Len returns the number of events in the window.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// ModuleKey returns the projection key for events that reference a pull
// request or a published release.
func ModuleKey(ev *models.CanonicalEvent) (string, bool) {
	switch {
	case ev.Entity.Kind == models.KindPullRequest:
		return "pr:" + ev.Org + "/" + ev.Repo + "#" + ev.Entity.Key, true
	case ev.Type == models.ReleasePublished:
		return "release:" + ev.Org + "/" + ev.Repo + ":" + ev.Entity.Key, true
	}
	return "", false
}

// upsert merges ev into the row for key. Title, url and zone keep their
// previous value when the event omits them; status and time always move.
// Must be called with s.mu held.
func (s *Store) upsert(key string, ev *models.CanonicalEvent) {
	m, ok := s.modules[key]
	if !ok {
		m = &models.Module{Key: key}
		s.modules[key] = m
	}
	if ev.Entity.Title != "" {
		m.Title = ev.Entity.Title
	}
	if ev.Entity.URL != "" {
		m.URL = ev.Entity.URL
	}
	if ev.StationHint != "" {
		m.Zone = string(ev.StationHint)
	}
	m.Status = ev.Status
	m.UpdatedTS = ev.TS

	if !ok && len(s.modules) > s.opts.MaxModules {
		s.evictOldestModule(key)
	}
}

func (s *Store) evictOldestModule(keep string) {
	var oldestKey string
	var oldestTS int64
	for k, m := range s.modules {
		if k == keep {
			continue
		}
		if oldestKey == "" || m.UpdatedTS < oldestTS {
			oldestKey = k
			oldestTS = m.UpdatedTS
		}
	}
	if oldestKey != "" {
		delete(s.modules, oldestKey)
	}
}
