package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factoryhub/internal/fanout"
	"factoryhub/internal/metrics"
	"factoryhub/internal/pipeline"
	"factoryhub/internal/progress"
	"factoryhub/internal/signature"
	"factoryhub/internal/state"
	"factoryhub/pkg/models"
)

const testSecret = "topsecret"

const prOpenedBody = `{"action":"opened","number":5,"pull_request":{"number":5,"title":"Add boosters","html_url":"https://github.com/acme/rocket/pull/5"},"repository":{"full_name":"acme/rocket"}}`

const ciFailedBody = `{"workflow_run":{"id":9,"name":"CI","status":"completed","conclusion":"timed_out","head_branch":"main","html_url":"https://ci/9"},"repository":{"full_name":"acme/rocket"}}`

type testEnv struct {
	router *gin.Engine
	pipe   *pipeline.Pipeline
	hub    *fanout.Hub
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	progressPath := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(progressPath, []byte(`{"current":"ship it","roadmap":{"items":[{"id":"a","priority":"P0","title":"x","status":"done"}]}}`), 0644))

	hub := fanout.NewHub(fanout.Options{KeepAlive: time.Hour})
	pipe := pipeline.New(pipeline.Deps{
		Secret: testSecret,
		Store:  state.NewStore(state.Options{}),
		Hub:    hub,
	})
	r := NewRouter(Deps{
		Pipeline:     pipe,
		Hub:          hub,
		Progress:     progress.NewStore(progressPath, time.Second),
		MaxBodyBytes: 4096,
		MetricsPath:  "/metrics",
		DeploySHA:    "deadbeef",
	})
	return &testEnv{router: r, pipe: pipe, hub: hub}
}

func (e *testEnv) post(path, event, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set(HeaderEvent, event)
	}
	if sig != "" {
		req.Header.Set(HeaderSignature, sig)
	}
	req.Header.Set(HeaderDelivery, "delivery-1")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func sign(body string) string {
	return signature.Header(testSecret, []byte(body))
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t)
	w := env.get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestWebhookAccepted(t *testing.T) {
	env := setupTestRouter(t)

	w := env.post("/webhooks/github", "pull_request", prOpenedBody, sign(prOpenedBody))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"count":1}`, w.Body.String())

	w = env.get("/state")
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap.Recent, 1)
	assert.Equal(t, models.PROpened, snap.Recent[0].Type)
	assert.Equal(t, 1, snap.KPIs.OpenPRs)
	require.Len(t, snap.Modules, 1)
	assert.Equal(t, "pr:acme/rocket#5", snap.Modules[0].Key)
	assert.Equal(t, "Add boosters", snap.Modules[0].Title)
}

// webhookSeries returns factoryhub_webhooks_total values keyed by
// source/result.
func webhookSeries(t *testing.T) map[string]float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	series := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "factoryhub_webhooks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			series[labels["source"]+"/"+labels["result"]] = m.GetCounter().GetValue()
		}
	}
	return series
}

func TestWebhookUnknownProvidersShareOneSeries(t *testing.T) {
	env := setupTestRouter(t)
	before := webhookSeries(t)

	for i := 0; i < 50; i++ {
		w := env.post(fmt.Sprintf("/webhooks/junk%d", i), "push", `{}`, "")
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	after := webhookSeries(t)
	for key := range after {
		assert.False(t, strings.HasPrefix(key, "junk"), "unexpected series %s", key)
	}
	assert.LessOrEqual(t, len(after), len(before)+1)
	assert.Equal(t, before[metrics.SourceOther+"/"+metrics.ResultUnknown]+50, after[metrics.SourceOther+"/"+metrics.ResultUnknown])
}

func TestWebhookStatusCodes(t *testing.T) {
	env := setupTestRouter(t)

	cases := []struct {
		name string
		path string
		body string
		sig  string
		code int
	}{
		{"bad signature", "/webhooks/github", prOpenedBody, signature.Header("other", []byte(prOpenedBody)), http.StatusUnauthorized},
		{"missing signature", "/webhooks/github", prOpenedBody, "", http.StatusUnauthorized},
		{"invalid json", "/webhooks/github", `{"action":`, sign(`{"action":`), http.StatusBadRequest},
		{"too large", "/webhooks/github", `{"pad":"` + strings.Repeat("x", 5000) + `"}`, "sha256=00", http.StatusRequestEntityTooLarge},
		{"unknown provider", "/webhooks/gitlab", prOpenedBody, sign(prOpenedBody), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.post(tc.path, "pull_request", tc.body, tc.sig)
			assert.Equal(t, tc.code, w.Code)
			assert.Contains(t, w.Body.String(), `"ok":false`)
		})
	}
	assert.Equal(t, 0, env.pipe.Store().Len())
}

func TestWebhookMissingEventHeader(t *testing.T) {
	env := setupTestRouter(t)
	w := env.post("/webhooks/github", "", prOpenedBody, sign(prOpenedBody))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"count":0}`, w.Body.String())
}

func TestStatusIncludesCIAndDeploy(t *testing.T) {
	env := setupTestRouter(t)
	require.Equal(t, http.StatusOK, env.post("/webhooks/github", "workflow_run", ciFailedBody, sign(ciFailedBody)).Code)

	w := env.get("/status")
	require.Equal(t, http.StatusOK, w.Code)

	var st progress.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, state.CIFailure, st.CI.Status)
	require.NotNil(t, st.CI.URL)
	assert.Equal(t, "https://ci/9", *st.CI.URL)
	require.NotNil(t, st.Deploy.SHA)
	assert.Equal(t, "deadbeef", *st.Deploy.SHA)
	assert.Nil(t, st.Deploy.DeployedAt)
	require.NotNil(t, st.Current)
	assert.Equal(t, "ship it", *st.Current)
}

func TestRoadmap(t *testing.T) {
	env := setupTestRouter(t)
	w := env.get("/roadmap")
	require.Equal(t, http.StatusOK, w.Code)

	var rm progress.Roadmap
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rm))
	assert.Equal(t, 100, rm.PercentComplete.P0)
	assert.Equal(t, 100, rm.PercentComplete.Overall)
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/webhooks/github", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestUnknownRoute(t *testing.T) {
	env := setupTestRouter(t)
	w := env.get("/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"ok":false}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestRouter(t)
	env.post("/webhooks/github", "pull_request", prOpenedBody, sign(prOpenedBody))

	w := env.get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "factoryhub_webhooks_total")
}

func TestWebSocketAnyWSPath(t *testing.T) {
	env := setupTestRouter(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	for _, path := range []string{"/ws", "/ws/", "/ws/factory"} {
		conn, _, err := websocket.DefaultDialer.Dial(base+path, nil)
		require.NoError(t, err, path)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var hello models.Hello
		require.NoError(t, conn.ReadJSON(&hello), path)
		assert.Equal(t, models.HelloType, hello.Type)
		conn.Close()
	}
}

func TestWebSocketReceivesWebhookEvents(t *testing.T) {
	env := setupTestRouter(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello models.Hello
	require.NoError(t, conn.ReadJSON(&hello))

	resp, err := http.Post(srv.URL+"/webhooks/github", "application/json", bytes.NewReader([]byte(prOpenedBody)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/github", strings.NewReader(prOpenedBody))
	require.NoError(t, err)
	req.Header.Set(HeaderEvent, "pull_request")
	req.Header.Set(HeaderSignature, sign(prOpenedBody))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ev models.CanonicalEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.PROpened, ev.Type)
	assert.Equal(t, "5", ev.Entity.Key)
}
