package models

// RuleTag represents a rule match annotation.
type RuleTag struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Level string `json:"level,omitempty"`
}
