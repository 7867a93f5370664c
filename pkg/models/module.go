package models

// Module is the latest known state of one pull request or release.
type Module struct {
	Key       string `json:"key"`
	Title     string `json:"title,omitempty"`
	URL       string `json:"url,omitempty"`
	Status    Status `json:"status"`
	Zone      string `json:"zone,omitempty"`
	UpdatedTS int64  `json:"updated_ts"`
}

// KPIs are the counters derived from the rolling window.
type KPIs struct {
	OpenPRs         int     `json:"open_prs"`
	FailingChecks   int     `json:"failing_checks"`
	LastRelease     *string `json:"last_release"`
	AvgCIDurationMS *int64  `json:"avg_ci_duration_ms"`
}

// Snapshot is the full state served to readers and new subscribers.
type Snapshot struct {
	TS      int64             `json:"ts"`
	KPIs    KPIs              `json:"kpis"`
	Modules []Module          `json:"modules"`
	Recent  []*CanonicalEvent `json:"recent"`
}
