package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factoryhub/config"
	inputredis "factoryhub/internal/input/redis"
	"factoryhub/internal/server"
	"factoryhub/internal/signature"
	"factoryhub/pkg/models"
)

func captureLines(t *testing.T, deliveries ...models.Delivery) string {
	t.Helper()
	var sb strings.Builder
	for _, d := range deliveries {
		b, err := json.Marshal(d)
		require.NoError(t, err)
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return sb.String()
}

type received struct {
	path, event, sig, delivery string
	body                       []byte
}

func TestReplayHTTPPreservesBodyAndHeaders(t *testing.T) {
	var mu sync.Mutex
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{
			path:     r.URL.Path,
			event:    r.Header.Get(server.HeaderEvent),
			sig:      r.Header.Get(server.HeaderSignature),
			delivery: r.Header.Get(server.HeaderDelivery),
			body:     body,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	payload := []byte("{\"action\": \"opened\",\n  \"number\": 7}")
	in := captureLines(t,
		models.Delivery{Provider: "github", Event: "pull_request", DeliveryID: "d-1", Signature: "sha256=abc", Payload: payload},
		models.Delivery{Event: "ping", DeliveryID: "d-2", Payload: []byte(`{}`)},
	)

	sent, err := replay(context.Background(), strings.NewReader(in), httpSender(srv.Client(), srv.URL+"/", ""), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.Len(t, got, 2)
	assert.Equal(t, "/webhooks/github", got[0].path)
	assert.Equal(t, "pull_request", got[0].event)
	assert.Equal(t, "sha256=abc", got[0].sig)
	assert.Equal(t, "d-1", got[0].delivery)
	assert.Equal(t, payload, got[0].body)

	assert.Equal(t, "/webhooks/github", got[1].path)
	assert.Empty(t, got[1].sig)
}

func TestReplayHTTPResigns(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(server.HeaderSignature)
	}))
	defer srv.Close()

	payload := []byte(`{"zen":"ok"}`)
	in := captureLines(t, models.Delivery{Provider: "github", Event: "ping", Signature: "sha256=stale", Payload: payload})

	_, err := replay(context.Background(), strings.NewReader(in), httpSender(srv.Client(), srv.URL, "s3cret"), 0)
	require.NoError(t, err)
	assert.Equal(t, signature.Header("s3cret", payload), sig)
}

func TestReplayStopsOnRejectedDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	in := captureLines(t,
		models.Delivery{Provider: "github", Event: "ping", DeliveryID: "a", Payload: []byte(`{}`)},
		models.Delivery{Provider: "github", Event: "ping", DeliveryID: "b", Payload: []byte(`{}`)},
	)
	sent, err := replay(context.Background(), strings.NewReader(in), httpSender(srv.Client(), srv.URL, ""), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery a")
	assert.Equal(t, 0, sent)
}

func TestReplaySkipsUnreadableLines(t *testing.T) {
	var count int
	send := func(ctx context.Context, d models.Delivery, line []byte) error {
		count++
		return nil
	}
	in := "not json\n" + captureLines(t, models.Delivery{Event: "ping", Payload: []byte(`{}`)})

	sent, err := replay(context.Background(), strings.NewReader(in), send, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, count)
}

func TestReplayRedisPublishesCapturedLines(t *testing.T) {
	mr := miniredis.RunT(t)
	pub := inputredis.NewPublisher(inputredis.Config{Addr: mr.Addr(), Key: "replay:test"})
	defer pub.Close()

	in := captureLines(t,
		models.Delivery{Provider: "github", Event: "push", Payload: []byte(`{"ref":"refs/heads/main"}`)},
		models.Delivery{Provider: "github", Event: "ping", Payload: []byte(`{}`)},
	)
	sent, err := replay(context.Background(), strings.NewReader(in), redisSender(pub), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	items, err := mr.List("replay:test")
	require.NoError(t, err)
	require.Len(t, items, 2)

	var d models.Delivery
	require.NoError(t, json.Unmarshal([]byte(items[0]), &d))
	assert.Equal(t, "push", d.Event)
	assert.Equal(t, []byte(`{"ref":"refs/heads/main"}`), d.Payload)
}

func TestBuildWriters(t *testing.T) {
	dir := t.TempDir()
	oc := config.OutputConfig{
		Modes: []string{"file", " HTTP ", "none"},
		File:  config.FileOutputConfig{Path: filepath.Join(dir, "events.jsonl")},
		HTTP:  config.HTTPOutputConfig{URL: "http://127.0.0.1:1/ingest"},
	}
	writers, names, err := buildWriters(oc)
	require.NoError(t, err)
	assert.Equal(t, []string{"file", "http"}, names)
	require.Len(t, writers, 2)
	for _, w := range writers {
		require.NoError(t, w.Close())
	}

	_, _, err = buildWriters(config.OutputConfig{Modes: []string{"kafka"}})
	require.Error(t, err)
}
