package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/learning"
	log "github.com/sirupsen/logrus"
)

// healthRecorder is satisfied by *learning.Engine.
type healthRecorder interface {
	RecordHealthCheck(ctx context.Context, credentialID uint64, checkErr error) error
}

// CredentialHealthHandler records the results of external credential health checks.
type CredentialHealthHandler struct {
	recorder healthRecorder
}

// NewCredentialHealthHandler constructs a CredentialHealthHandler.
func NewCredentialHealthHandler(recorder healthRecorder) *CredentialHealthHandler {
	return &CredentialHealthHandler{recorder: recorder}
}

type healthCheckRequest struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// HealthCheck applies one health check result to credential :id.
func (h *CredentialHealthHandler) HealthCheck(c *gin.Context) {
	credentialID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || credentialID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential id"})
		return
	}
	var req healthCheckRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var checkErr error
	if !req.OK {
		message := strings.TrimSpace(req.Error)
		if message == "" {
			message = "health check failed"
		}
		checkErr = errors.New(message)
	}
	if errRecord := h.recorder.RecordHealthCheck(c.Request.Context(), credentialID, checkErr); errRecord != nil {
		if errors.Is(errRecord, learning.ErrCredentialNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
			return
		}
		log.WithError(errRecord).WithField("credential_id", credentialID).Error("record health check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record health check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
