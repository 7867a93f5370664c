// Package progress serves the wallboard's machine-readable progress view
// from an externally maintained JSON file.
package progress

import (
	"encoding/json"
	"math"
	"os"
	"sync"
	"time"

	"factoryhub/internal/logger"
	"factoryhub/internal/state"
)

// Item status values.
const (
	ItemDone    = "done"
	ItemPartial = "partial"
	ItemNotDone = "not_done"
)

// Evidence links a definition-of-done item to proof.
type Evidence struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DodItem is one definition-of-done entry.
type DodItem struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Status   string     `json:"status"`
	Evidence []Evidence `json:"evidence,omitempty"`
}

// RoadmapItem is one prioritized roadmap entry.
type RoadmapItem struct {
	ID       string `json:"id"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Status   string `json:"status"`
}

// Dynamic carries the values the file does not know about.
type Dynamic struct {
	DeploySHA  *string
	DeployedAt *string
	CI         state.CIState
}

// Dod is the definition-of-done summary.
type Dod struct {
	Overall string    `json:"overall"`
	Items   []DodItem `json:"items"`
}

// Deploy describes the running build.
type Deploy struct {
	SHA        *string `json:"sha"`
	DeployedAt *string `json:"deployedAt"`
}

// Status is the /status response.
type Status struct {
	TS       int64         `json:"ts"`
	Current  *string       `json:"current"`
	Next     []string      `json:"next"`
	Blockers []string      `json:"blockers"`
	Dod      Dod           `json:"dod"`
	Deploy   Deploy        `json:"deploy"`
	CI       state.CIState `json:"ci"`
}

// Percent holds completion percentages per priority.
type Percent struct {
	P0      int `json:"P0"`
	P1      int `json:"P1"`
	P2      int `json:"P2"`
	Overall int `json:"overall"`
}

// Roadmap is the /roadmap response.
type Roadmap struct {
	TS              int64         `json:"ts"`
	Items           []RoadmapItem `json:"items"`
	PercentComplete Percent       `json:"percentComplete"`
}

type file struct {
	Current  *string  `json:"current"`
	Next     []string `json:"next"`
	Blockers []string `json:"blockers"`
	Dod      struct {
		Items []DodItem `json:"items"`
	} `json:"dod"`
	Roadmap struct {
		Items []RoadmapItem `json:"items"`
	} `json:"roadmap"`
}

// Store reads the progress file at most once per ttl. A missing or invalid
// file reads as empty.
type Store struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	lastRead time.Time
	cached   file
}

// NewStore creates a progress reader for path.
func NewStore(path string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &Store{path: path, ttl: ttl, now: time.Now}
}

func (s *Store) load() file {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.lastRead.IsZero() && now.Sub(s.lastRead) < s.ttl {
		return s.cached
	}
	s.lastRead = now

	var f file
	raw, err := os.ReadFile(s.path)
	if err == nil {
		err = json.Unmarshal(raw, &f)
	}
	if err != nil {
		logger.Debugf("progress: using empty defaults: %v", err)
		f = file{}
	}
	s.cached = f
	return f
}

// Status builds the progress status.
func (s *Store) Status(dyn Dynamic) Status {
	f := s.load()

	items := nonNil(f.Dod.Items)
	overall := "NOT DONE"
	if len(items) > 0 && allDone(items) {
		overall = "DONE"
	}

	return Status{
		TS:       s.now().UnixMilli(),
		Current:  f.Current,
		Next:     nonNil(f.Next),
		Blockers: nonNil(f.Blockers),
		Dod:      Dod{Overall: overall, Items: items},
		Deploy:   Deploy{SHA: dyn.DeploySHA, DeployedAt: dyn.DeployedAt},
		CI:       dyn.CI,
	}
}

// Roadmap builds the roadmap with completion percentages.
func (s *Store) Roadmap() Roadmap {
	f := s.load()
	items := nonNil(f.Roadmap.Items)

	byPriority := map[string][]RoadmapItem{}
	for _, it := range items {
		byPriority[it.Priority] = append(byPriority[it.Priority], it)
	}

	return Roadmap{
		TS:    s.now().UnixMilli(),
		Items: items,
		PercentComplete: Percent{
			P0:      percentDone(byPriority["P0"]),
			P1:      percentDone(byPriority["P1"]),
			P2:      percentDone(byPriority["P2"]),
			Overall: percentDone(items),
		},
	}
}

func allDone(items []DodItem) bool {
	for _, it := range items {
		if it.Status != ItemDone {
			return false
		}
	}
	return true
}

func percentDone(items []RoadmapItem) int {
	if len(items) == 0 {
		return 0
	}
	done := 0
	for _, it := range items {
		if it.Status == ItemDone {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(len(items)) * 100))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
