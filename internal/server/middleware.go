package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"factoryhub/internal/logger"
)

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, "+HeaderEvent+", "+HeaderSignature+", "+HeaderDelivery)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger writes one line per request through the hub logger.
// Long-lived streams are logged when they end.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		switch {
		case status >= 500:
			logger.Errorf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, status, latency)
		case status >= 400:
			logger.Warnf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, status, latency)
		default:
			logger.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, status, latency)
		}
	}
}
