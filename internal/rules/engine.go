package rules

import "factoryhub/pkg/models"

// Engine tags canonical events with matching rules.
type Engine interface {
	Apply(event *models.CanonicalEvent) []models.RuleTag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(event *models.CanonicalEvent) []models.RuleTag {
	return nil
}
