package eventhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"factoryhub/internal/signature"
	"factoryhub/pkg/models"
)

// Headers set on every forwarded batch.
const (
	HeaderBatch     = "X-FactoryHub-Batch"
	HeaderCount     = "X-FactoryHub-Event-Count"
	HeaderSignature = "X-FactoryHub-Signature-256"
)

// Config configures the HTTP writer.
type Config struct {
	URL     string
	Headers map[string]string
	// Timeout bounds each attempt (default 5s).
	Timeout time.Duration
	// Secret, when set, signs each body the same way GitHub signs
	// deliveries so receivers can reuse their verifier.
	Secret string
	// Retries is the number of extra attempts after a retryable failure
	// (default 2, negative disables).
	Retries      int
	RetryBackoff time.Duration
}

// StatusError is a non-2xx response from the receiver.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "http request failed with status " + e.Status
}

// Retryable reports whether the receiver may accept the batch later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Writer forwards canonical events to a remote HTTP endpoint as a JSON
// array, one POST per batch.
type Writer struct {
	cfg    Config
	client *http.Client
	newID  func() string
}

// NewWriter creates an HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http output URL is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 2
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Writer{
		cfg:    cfg,
		client: &http.Client{},
		newID:  uuid.NewString,
	}, nil
}

// WriteEvents posts a batch without a caller deadline.
func (w *Writer) WriteEvents(events []*models.CanonicalEvent) error {
	return w.WriteEventsContext(context.Background(), events)
}

// WriteEventsContext posts a batch, retrying transport failures, 429 and
// 5xx responses with exponential backoff until ctx is done. All attempts
// carry the same batch id.
func (w *Writer) WriteEventsContext(ctx context.Context, events []*models.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	batchID := w.newID()

	var lastErr error
	for attempt := 0; attempt <= w.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("batch %s: %w (last error: %v)", batchID, ctx.Err(), lastErr)
			case <-time.After(w.cfg.RetryBackoff << (attempt - 1)):
			}
		}

		lastErr = w.post(ctx, batchID, len(events), body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) {
			break
		}
	}
	return fmt.Errorf("batch %s: %w", batchID, lastErr)
}

func (w *Writer) post(ctx context.Context, batchID string, count int, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderBatch, batchID)
	req.Header.Set(HeaderCount, strconv.Itoa(count))
	if w.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, signature.Header(w.cfg.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// Close releases HTTP resources.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
