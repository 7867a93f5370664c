// Package server is the hub's HTTP boundary.
package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"factoryhub/internal/fanout"
	"factoryhub/internal/logger"
	"factoryhub/internal/metrics"
	"factoryhub/internal/pipeline"
	"factoryhub/internal/progress"
	"factoryhub/pkg/models"
)

// Webhook request headers.
const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderSignature = "X-Hub-Signature-256"
	HeaderDelivery  = "X-GitHub-Delivery"
)

// Deps wires the router.
type Deps struct {
	Pipeline     *pipeline.Pipeline
	Hub          *fanout.Hub
	Progress     *progress.Store
	MaxBodyBytes int64
	MetricsPath  string
	DeploySHA    string
	DeployedAt   string
}

type handler struct {
	deps Deps
}

// NewRouter builds the gin engine with every hub route.
func NewRouter(deps Deps) *gin.Engine {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	h := &handler{deps: deps}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(gin.Recovery(), requestLogger(), cors())

	r.GET("/health", h.health)
	r.GET("/state", h.state)
	r.GET("/status", h.status)
	r.GET("/roadmap", h.roadmap)
	r.POST("/webhooks/:provider", h.webhook)
	r.GET("/events", deps.Hub.SSEHandler(deps.Pipeline.SnapshotAndSubscribe))
	r.GET("/ws", h.websocket)
	if deps.MetricsPath != "" {
		r.GET(deps.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	// Any other /ws* path also upgrades.
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && strings.HasPrefix(c.Request.URL.Path, "/ws") {
			h.websocket(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"ok": false})
	})
	return r
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Pipeline.Store().Snapshot())
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Progress.Status(progress.Dynamic{
		DeploySHA:  optional(h.deps.DeploySHA),
		DeployedAt: optional(h.deps.DeployedAt),
		CI:         h.deps.Pipeline.CI().Current(),
	}))
}

func (h *handler) roadmap(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Progress.Roadmap())
}

func (h *handler) websocket(c *gin.Context) {
	h.deps.Hub.ServeWS(c.Writer, c.Request)
}

func (h *handler) webhook(c *gin.Context) {
	provider := c.Param("provider")
	if provider != pipeline.ProviderGitHub {
		metrics.WebhooksTotal.WithLabelValues(metrics.Source(provider), metrics.ResultUnknown).Inc()
		c.JSON(http.StatusNotFound, gin.H{"ok": false})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.deps.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhooksTotal.WithLabelValues(metrics.Source(provider), metrics.ResultTooLarge).Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"ok": false})
		return
	}

	event := c.GetHeader(HeaderEvent)
	if event == "" {
		event = "unknown"
	}

	n, err := h.deps.Pipeline.Ingest(c.Request.Context(), models.Delivery{
		Provider:   provider,
		Event:      event,
		DeliveryID: c.GetHeader(HeaderDelivery),
		Signature:  c.GetHeader(HeaderSignature),
		Payload:    body,
		ReceivedAt: time.Now().UnixMilli(),
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true, "count": n})
	case errors.Is(err, pipeline.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false})
	case errors.Is(err, pipeline.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid JSON"})
	case errors.Is(err, pipeline.ErrUnknownProvider):
		c.JSON(http.StatusNotFound, gin.H{"ok": false})
	default:
		logger.Errorf("Webhook %s failed: %v", c.GetHeader(HeaderDelivery), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
