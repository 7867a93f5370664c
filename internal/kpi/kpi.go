// Package kpi derives dashboard counters from an ordered event window.
package kpi

import (
	"math"

	"factoryhub/pkg/models"
)

type ciKey struct {
	repo     string
	workflow string
	branch   string
}

// Compute aggregates one window in a single pass. It holds no state
// between calls, so the result always matches the window it is given.
//
// Pull requests are last-event-wins per org/repo#number: opened or
// updated marks open, closed marks closed regardless of merge outcome.
// Checks are last-completion-wins per org/repo, workflow and branch.
func Compute(events []*models.CanonicalEvent) models.KPIs {
	prOpen := make(map[string]bool)
	ciLatest := make(map[ciKey]models.Status)

	var lastRelease *models.CanonicalEvent
	var durSum float64
	var durN int

	for _, ev := range events {
		if ev == nil {
			continue
		}

		if ev.Entity.Kind == models.KindPullRequest {
			switch ev.Type {
			case models.PROpened, models.PRUpdated:
				prOpen[ev.PRKey()] = true
			case models.PRClosed:
				prOpen[ev.PRKey()] = false
			}
		}

		if ev.Type == models.CICompleted {
			key := ciKey{
				repo:     ev.Org + "/" + ev.Repo,
				workflow: metaOr(ev, models.MetaWorkflow),
				branch:   metaOr(ev, models.MetaBranch),
			}
			ciLatest[key] = ev.Status

			if d, ok := ev.MetaNumber(models.MetaDurationMS); ok && d >= 0 {
				durSum += d
				durN++
			}
		}

		if ev.Type == models.ReleasePublished {
			if lastRelease == nil || ev.TS >= lastRelease.TS {
				lastRelease = ev
			}
		}
	}

	var out models.KPIs
	for _, open := range prOpen {
		if open {
			out.OpenPRs++
		}
	}
	for _, status := range ciLatest {
		if status == models.StatusFailure {
			out.FailingChecks++
		}
	}
	if lastRelease != nil {
		tag := lastRelease.Entity.Key
		out.LastRelease = &tag
	}
	if durN > 0 {
		avg := int64(math.Round(durSum / float64(durN)))
		out.AvgCIDurationMS = &avg
	}
	return out
}

// metaOr returns a string meta value, or "unknown" when it is missing or
// not a string.
func metaOr(ev *models.CanonicalEvent, key string) string {
	if s, ok := ev.Meta[key].(string); ok {
		return s
	}
	return "unknown"
}
