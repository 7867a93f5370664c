package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"factoryhub/internal/logger"
	"factoryhub/internal/metrics"
	"factoryhub/internal/rules"
	"factoryhub/internal/signature"
	"factoryhub/internal/state"
	"factoryhub/internal/transform/github"
	"factoryhub/pkg/models"
)

// ProviderGitHub is the only webhook provider accepted.
const ProviderGitHub = "github"

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnauthorized    = errors.New("signature verification failed")
	ErrMalformed       = errors.New("malformed payload")
)

// Broadcaster delivers events to live subscribers.
type Broadcaster interface {
	Broadcast(ev *models.CanonicalEvent) int
}

// Deps wires the pipeline. Nil fields get working defaults, except Hub,
// which is optional.
type Deps struct {
	Secret     string
	Normalizer *github.Normalizer
	Engine     rules.Engine
	Store      *state.Store
	CI         *state.CITracker
	Hub        Broadcaster

	Writers       []EventWriter
	Raw           RawWriter
	SinkNames     []string
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	// DrainTimeout bounds the final flush after Run's context is cancelled.
	DrainTimeout  time.Duration
}

type sinkItem struct {
	events []*models.CanonicalEvent
	raw    []byte
}

// Pipeline runs verified deliveries through normalization, tagging, the
// rolling store and fanout. Sink exports happen asynchronously in Run.
type Pipeline struct {
	deps Deps
	mu   sync.Mutex

	sinkCh chan sinkItem
}

// New creates a pipeline.
func New(deps Deps) *Pipeline {
	if deps.Normalizer == nil {
		deps.Normalizer = github.NewNormalizer()
	}
	if deps.Engine == nil {
		deps.Engine = &rules.NoopEngine{}
	}
	if deps.Store == nil {
		deps.Store = state.NewStore(state.Options{})
	}
	if deps.CI == nil {
		deps.CI = state.NewCITracker()
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = 1024
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = 100
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = 2 * time.Second
	}
	if deps.DrainTimeout <= 0 {
		deps.DrainTimeout = 5 * time.Second
	}

	p := &Pipeline{deps: deps}
	if len(deps.Writers) > 0 || deps.Raw != nil {
		p.sinkCh = make(chan sinkItem, deps.QueueSize)
	}
	return p
}

// Store returns the rolling store the pipeline pushes into.
func (p *Pipeline) Store() *state.Store { return p.deps.Store }

// CI returns the CI tracker the pipeline feeds.
func (p *Pipeline) CI() *state.CITracker { return p.deps.CI }

// SnapshotAndSubscribe calls subscribe and takes a store snapshot while no
// delivery is in flight. A subscriber registered by subscribe receives
// exactly the events that are not in the returned snapshot.
func (p *Pipeline) SnapshotAndSubscribe(subscribe func()) models.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	subscribe()
	return p.deps.Store.Snapshot()
}

// Ingest verifies and processes one delivery, returning the number of
// canonical events it produced. Deliveries are processed one at a time so
// every event of a delivery is stored and broadcast before the next
// delivery is normalized.
func (p *Pipeline) Ingest(ctx context.Context, d models.Delivery) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.Provider != ProviderGitHub {
		metrics.WebhooksTotal.WithLabelValues(metrics.Source(d.Provider), metrics.ResultUnknown).Inc()
		return 0, fmt.Errorf("%w: %q", ErrUnknownProvider, d.Provider)
	}
	if !signature.Verify(p.deps.Secret, d.Signature, d.Payload) {
		metrics.WebhooksTotal.WithLabelValues(metrics.Source(d.Provider), metrics.ResultUnauthorized).Inc()
		logger.Warnf("Rejected %s delivery %s: bad signature", d.Event, d.DeliveryID)
		return 0, ErrUnauthorized
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	events, err := p.deps.Normalizer.Normalize(d.Event, d.Payload)
	metrics.NormalizationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(metrics.Source(d.Provider), metrics.ResultMalformed).Inc()
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	metrics.WebhooksTotal.WithLabelValues(metrics.Source(d.Provider), metrics.ResultAccepted).Inc()

	for _, ev := range events {
		if tags := p.deps.Engine.Apply(ev); len(tags) > 0 {
			ev.SetMeta(models.MetaRuleTags, tags)
			for _, tag := range tags {
				metrics.RuleMatches.WithLabelValues(tag.ID).Inc()
			}
		}
		p.deps.Store.Push(ev)
		p.deps.CI.Observe(ev)
		metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
		if p.deps.Hub != nil {
			p.deps.Hub.Broadcast(ev)
		}
	}
	metrics.WindowSize.Set(float64(p.deps.Store.Len()))

	if len(events) > 0 {
		logger.Debugf("Delivery %s (%s) produced %d events", d.DeliveryID, d.Event, len(events))
	}
	p.enqueue(d, events)
	return len(events), nil
}

func (p *Pipeline) enqueue(d models.Delivery, events []*models.CanonicalEvent) {
	if p.sinkCh == nil {
		return
	}
	item := sinkItem{events: events}
	if p.deps.Raw != nil {
		raw, err := json.Marshal(d)
		if err != nil {
			logger.Errorf("Failed to encode delivery %s for capture: %v", d.DeliveryID, err)
		} else {
			item.raw = raw
		}
	}
	if len(item.events) == 0 && item.raw == nil {
		return
	}
	select {
	case p.sinkCh <- item:
	default:
		metrics.SinkErrors.WithLabelValues("queue").Inc()
		logger.Warnf("Sink queue full, dropping delivery %s", d.DeliveryID)
	}
}

// Run drains the sink queue until ctx is cancelled, writing batches when
// they reach BatchSize or every FlushInterval. Sink writes run under ctx;
// the final flush after cancellation gets DrainTimeout of its own. Without
// sinks Run just waits for ctx.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.sinkCh == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(p.deps.FlushInterval)
	defer ticker.Stop()

	var batch []*models.CanonicalEvent
	var raws [][]byte

	flush := func(ctx context.Context) {
		if len(batch) > 0 {
			for i, w := range p.deps.Writers {
				if err := writeEvents(ctx, w, batch); err != nil {
					metrics.SinkErrors.WithLabelValues(p.sinkName(i)).Inc()
					logger.Errorf("Failed to write %d events to %s: %v", len(batch), p.sinkName(i), err)
				}
			}
			batch = nil
		}
		if len(raws) > 0 {
			if err := p.deps.Raw.WriteRawMessages(raws); err != nil {
				metrics.SinkErrors.WithLabelValues("raw").Inc()
				logger.Errorf("Failed to write %d raw deliveries: %v", len(raws), err)
			}
			raws = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case item := <-p.sinkCh:
					batch = append(batch, item.events...)
					if item.raw != nil {
						raws = append(raws, item.raw)
					}
				default:
					drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deps.DrainTimeout)
					flush(drainCtx)
					cancel()
					return ctx.Err()
				}
			}
		case <-ticker.C:
			flush(ctx)
		case item := <-p.sinkCh:
			if len(p.deps.Writers) > 0 {
				batch = append(batch, item.events...)
			}
			if item.raw != nil {
				raws = append(raws, item.raw)
			}
			if len(batch) >= p.deps.BatchSize || len(raws) >= p.deps.BatchSize {
				flush(ctx)
			}
		}
	}
}

// Close releases sink resources.
func (p *Pipeline) Close() error {
	var errs []error
	for i, w := range p.deps.Writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.sinkName(i), err))
		}
	}
	if p.deps.Raw != nil {
		if err := p.deps.Raw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close raw writer: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) sinkName(i int) string {
	if i < len(p.deps.SinkNames) && p.deps.SinkNames[i] != "" {
		return p.deps.SinkNames[i]
	}
	return fmt.Sprintf("sink%d", i)
}
