// Package client provides a reconnecting subscriber for the hub's live
// event stream. It prefers the WebSocket channel and falls back to the
// Server-Sent Events stream when WebSocket connections keep failing.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"factoryhub/pkg/models"
)

// Status is the connection state reported through Config.OnStatus.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Config configures a Client. Only BaseURL is required.
type Config struct {
	BaseURL       string
	MinBackoff    time.Duration
	MaxBackoff    time.Duration
	FallbackAfter int

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	OnStatus   func(Status)
	OnSnapshot func(models.Snapshot)
	OnEvent    func(*models.CanonicalEvent)
}

// Client is a reconnecting subscriber. Callbacks run on the goroutine
// that called Run.
type Client struct {
	cfg  Config
	base *url.URL
	rand func() float64
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	if cfg.FallbackAfter <= 0 {
		cfg.FallbackAfter = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{cfg: cfg, base: base, rand: rand.Float64}, nil
}

// Run keeps a live session open until ctx is cancelled, reconnecting with
// full-jitter exponential backoff. A session that got as far as delivering
// a snapshot resets the backoff. It always returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	wsFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.status(StatusConnecting)

		var established bool
		if wsFailures >= c.cfg.FallbackAfter {
			established, _ = c.runSSE(ctx)
		} else {
			established, _ = c.runWS(ctx)
			if !established {
				wsFailures++
			}
		}
		c.status(StatusDisconnected)

		if err := ctx.Err(); err != nil {
			return err
		}
		if established {
			attempt = 0
			wsFailures = 0
		}

		delay := c.backoff(attempt)
		attempt++
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff returns a random delay in [0, min(MaxBackoff, MinBackoff*2^attempt)).
func (c *Client) backoff(attempt int) time.Duration {
	ceiling := c.cfg.MinBackoff
	for i := 0; i < attempt && ceiling < c.cfg.MaxBackoff; i++ {
		ceiling *= 2
	}
	if ceiling > c.cfg.MaxBackoff {
		ceiling = c.cfg.MaxBackoff
	}
	return time.Duration(c.rand() * float64(ceiling))
}

// Snapshot fetches the current hub state.
func (c *Client) Snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("http", "/state"), nil)
	if err != nil {
		return snap, err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return snap, fmt.Errorf("fetch state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("fetch state: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode state: %w", err)
	}
	return snap, nil
}

// runWS holds one WebSocket session. The session counts as established
// once the hello frame arrived and the snapshot was delivered.
func (c *Client) runWS(ctx context.Context) (bool, error) {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.endpoint("ws", "/ws"), nil)
	if err != nil {
		return false, fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("read hello: %w", err)
	}
	if frameType(msg) != models.HelloType {
		return false, errors.New("expected hello frame")
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	c.status(StatusConnected)
	c.snapshot(snap)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read websocket: %w", err)
		}
		c.dispatchEvent(msg)
	}
}

// runSSE holds one fallback session. Its first message carries the
// snapshot, so no separate fetch is made.
func (c *Client) runSSE(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("http", "/events"), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("open event stream: unexpected status %d", resp.StatusCode)
	}

	established := false
	reader := newEventReader(resp.Body)
	for {
		frame, err := reader.Next()
		if err != nil {
			return established, fmt.Errorf("read event stream: %w", err)
		}
		switch frame.Event {
		case "snapshot":
			var snap models.Snapshot
			if err := json.Unmarshal([]byte(frame.Data), &snap); err != nil {
				return established, fmt.Errorf("decode snapshot: %w", err)
			}
			if !established {
				established = true
				c.status(StatusConnected)
			}
			c.snapshot(snap)
		case "event":
			c.dispatchEvent([]byte(frame.Data))
		}
	}
}

func (c *Client) dispatchEvent(msg []byte) {
	if frameType(msg) == models.HelloType {
		return
	}
	var ev models.CanonicalEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return
	}
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(&ev)
	}
}

func (c *Client) status(s Status) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}

func (c *Client) snapshot(s models.Snapshot) {
	if c.cfg.OnSnapshot != nil {
		c.cfg.OnSnapshot(s)
	}
}

func (c *Client) endpoint(kind, path string) string {
	u := *c.base
	if kind == "ws" {
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	}
	u.Path = u.Path + path
	return u.String()
}

func frameType(msg []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return ""
	}
	return head.Type
}
