package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook results.
const (
	ResultAccepted     = "accepted"
	ResultUnauthorized = "unauthorized"
	ResultMalformed    = "malformed"
	ResultTooLarge     = "too_large"
	ResultUnknown      = "unknown_provider"
)

// SourceOther is the source label for every provider the hub does not
// accept. Provider names come from the request path, so they never become
// label values directly.
const SourceOther = "other"

// Source maps a provider name onto the bounded set of source labels.
func Source(provider string) string {
	if provider == "github" {
		return provider
	}
	return SourceOther
}

var (
	// Ingest metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factoryhub_webhooks_total",
			Help: "Total number of webhook deliveries by source and result",
		},
		[]string{"source", "result"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factoryhub_events_total",
			Help: "Total number of canonical events produced",
		},
		[]string{"type"},
	)

	NormalizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "factoryhub_normalization_duration_seconds",
			Help:    "Duration of webhook normalization in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factoryhub_rule_matches_total",
			Help: "Total number of rule tags attached to events",
		},
		[]string{"rule"},
	)

	// State metrics
	WindowSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "factoryhub_window_events",
			Help: "Current number of events in the rolling window",
		},
	)

	// Fanout metrics
	Subscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "factoryhub_subscribers",
			Help: "Current number of live subscribers",
		},
		[]string{"transport"},
	)

	BroadcastDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "factoryhub_broadcast_delivered_total",
			Help: "Total number of event frames queued to subscribers",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "factoryhub_broadcast_dropped_total",
			Help: "Total number of event frames dropped for slow subscribers",
		},
	)

	// Sink metrics
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factoryhub_sink_errors_total",
			Help: "Total number of output sink write errors",
		},
		[]string{"sink"},
	)

	RelayErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "factoryhub_relay_errors_total",
			Help: "Total number of relay queue read or decode errors",
		},
	)
)
