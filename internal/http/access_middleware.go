// Package http assembles the gateway's gin engine.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/util"
	log "github.com/sirupsen/logrus"
)

// AccessLogMiddleware logs one line per request with its principal, status and latency.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := log.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			fields["query"] = util.MaskSensitiveQuery(query)
		}
		if userID, ok := c.Get("userID"); ok {
			fields["user_id"] = userID
		}
		if adminID, ok := c.Get("adminID"); ok {
			fields["admin_id"] = adminID
		}
		entry := log.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// RecoveryMiddleware turns panics into 500 responses and logs them.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithField("path", c.Request.URL.Path).Errorf("panic recovered: %v", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
