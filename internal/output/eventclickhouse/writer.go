package eventclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"factoryhub/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// Row is one canonical event flattened for a ClickHouse table. Meta is
// kept as a JSON string column.
type Row struct {
	ID          string `json:"id"`
	TS          int64  `json:"ts"`
	Source      string `json:"source"`
	Org         string `json:"org"`
	Repo        string `json:"repo"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	EntityKind  string `json:"entity_kind"`
	EntityKey   string `json:"entity_key"`
	EntityTitle string `json:"entity_title"`
	EntityURL   string `json:"entity_url"`
	StationHint string `json:"station_hint"`
	Meta        string `json:"meta"`
}

// RowFrom flattens ev.
func RowFrom(ev *models.CanonicalEvent) (Row, error) {
	meta := "{}"
	if len(ev.Meta) > 0 {
		raw, err := json.Marshal(ev.Meta)
		if err != nil {
			return Row{}, err
		}
		meta = string(raw)
	}
	return Row{
		ID:          ev.ID,
		TS:          ev.TS,
		Source:      ev.Source,
		Org:         ev.Org,
		Repo:        ev.Repo,
		Type:        string(ev.Type),
		Status:      string(ev.Status),
		EntityKind:  string(ev.Entity.Kind),
		EntityKey:   ev.Entity.Key,
		EntityTitle: ev.Entity.Title,
		EntityURL:   ev.Entity.URL,
		StationHint: string(ev.StationHint),
		Meta:        meta,
	}, nil
}

// Writer inserts canonical events into ClickHouse via HTTP JSONEachRow.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "factory_events"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	endpoint := strings.TrimRight(cfg.URL, "/") + "/?query=" + url.QueryEscape(q)

	headers := make(map[string]string, len(cfg.Headers)+2)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// WriteEvents inserts a batch of events.
func (w *Writer) WriteEvents(events []*models.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range events {
		row, err := RowFrom(ev)
		if err != nil {
			return fmt.Errorf("failed to flatten event %s: %w", ev.ID, err)
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

func quoteIdent(v string) string {
	v = strings.ReplaceAll(v, "`", "")
	if v == "" {
		return ""
	}
	return "`" + v + "`"
}
