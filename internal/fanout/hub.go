// Package fanout delivers canonical events to live subscribers.
package fanout

import (
	"encoding/json"
	"sync"
	"time"

	"factoryhub/internal/logger"
	"factoryhub/internal/metrics"
	"factoryhub/pkg/models"
)

// Transport names the channel a subscriber is attached through.
type Transport string

const (
	TransportWS  Transport = "ws"
	TransportSSE Transport = "sse"
)

// Options tunes subscriber buffering and connection liveness.
type Options struct {
	Buffer     int
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	KeepAlive  time.Duration
}

func (o *Options) applyDefaults() {
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 15 * time.Second
	}
}

// Subscriber is one live connection. Frames are queued on a bounded
// channel drained by the connection's writer goroutine.
type Subscriber struct {
	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Messages returns the queued event frames.
func (s *Subscriber) Messages() <-chan []byte { return s.send }

// Done is closed once the subscriber stops accepting frames.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close marks the subscriber as closing. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscriber) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Hub is the subscriber registry.
type Hub struct {
	opts Options
	now  func() time.Time

	mu   sync.RWMutex
	subs map[*Subscriber]Transport
}

// NewHub creates an empty hub.
func NewHub(opts Options) *Hub {
	opts.applyDefaults()
	return &Hub{
		opts: opts,
		now:  time.Now,
		subs: make(map[*Subscriber]Transport),
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe(transport Transport) *Subscriber {
	sub := &Subscriber{
		transport: transport,
		send:      make(chan []byte, h.opts.Buffer),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = transport
	h.mu.Unlock()

	metrics.Subscribers.WithLabelValues(string(transport)).Inc()
	logger.Debugf("fanout: %s subscriber attached", transport)
	return sub
}

// Unsubscribe closes sub and removes it from the registry.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	sub.Close()

	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()

	if ok {
		metrics.Subscribers.WithLabelValues(string(sub.transport)).Dec()
		logger.Debugf("fanout: %s subscriber detached", sub.transport)
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast serializes ev once and queues it for every open subscriber.
// Subscribers that are closing are skipped and full buffers drop the
// frame. It returns the number of subscribers the frame was queued for.
func (h *Hub) Broadcast(ev *models.CanonicalEvent) int {
	if ev == nil {
		return 0
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("fanout: marshal event %s: %v", ev.ID, err)
		return 0
	}

	delivered, dropped := 0, 0
	h.mu.RLock()
	for sub := range h.subs {
		if sub.closing() {
			continue
		}
		select {
		case sub.send <- msg:
			delivered++
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	metrics.BroadcastDelivered.Add(float64(delivered))
	if dropped > 0 {
		metrics.BroadcastDropped.Add(float64(dropped))
		logger.Warnf("fanout: dropped event %s for %d slow subscribers", ev.ID, dropped)
	}
	return delivered
}

// Hello builds the handshake frame sent on connect.
func (h *Hub) Hello() []byte {
	msg, _ := json.Marshal(models.Hello{Type: models.HelloType, TS: h.now().UnixMilli()})
	return msg
}

// Close detaches every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscriber]Transport)
	h.mu.Unlock()

	for sub, transport := range subs {
		sub.Close()
		metrics.Subscribers.WithLabelValues(string(transport)).Dec()
	}
}
