package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/learning"
	"github.com/router-for-me/AIGateway/internal/models"
	"github.com/router-for-me/AIGateway/internal/selector"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// outcomeRecorder is satisfied by *learning.Engine.
type outcomeRecorder interface {
	RecordSuccess(ctx context.Context, instanceID uint64, latencyMs int64, tokensUsed int64) error
	RecordFailure(ctx context.Context, instanceID uint64, kind learning.ErrorKind, message string, detail map[string]any) error
}

// instanceScorer is satisfied by *selector.Selector.
type instanceScorer interface {
	ScoreInstances(ctx context.Context, userID uint64, now time.Time) ([]selector.Candidate, error)
}

// InstanceHandler serves outcome reporting and instance inspection.
type InstanceHandler struct {
	db       *gorm.DB
	recorder outcomeRecorder
	scorer   instanceScorer
}

// NewInstanceHandler constructs an InstanceHandler.
func NewInstanceHandler(db *gorm.DB, recorder outcomeRecorder, scorer instanceScorer) *InstanceHandler {
	return &InstanceHandler{db: db, recorder: recorder, scorer: scorer}
}

type successRequest struct {
	LatencyMs  int64 `json:"latency_ms"`
	TokensUsed int64 `json:"tokens_used"`
}

type failureRequest struct {
	ErrorType    string         `json:"error_type"`
	ErrorMessage string         `json:"error_message"`
	Extra        string         `json:"extra"`
	Detail       map[string]any `json:"detail"`
}

// List returns the caller's instances with scores and eligibility.
func (h *InstanceHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	scored, errScore := h.scorer.ScoreInstances(c.Request.Context(), userID, time.Time{})
	if errScore != nil {
		log.WithError(errScore).WithField("user_id", userID).Error("list instances failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list instances failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": newCandidateViews(scored)})
}

// Success records a successful provider call.
func (h *InstanceHandler) Success(c *gin.Context) {
	instanceID, ok := h.ownedInstance(c)
	if !ok {
		return
	}
	var req successRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.LatencyMs < 0 || req.TokensUsed < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latency_ms and tokens_used must be non-negative"})
		return
	}
	if errRecord := h.recorder.RecordSuccess(c.Request.Context(), instanceID, req.LatencyMs, req.TokensUsed); errRecord != nil {
		h.writeRecordError(c, instanceID, errRecord)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Failure records a failed provider call. A missing error_type is derived
// from the message.
func (h *InstanceHandler) Failure(c *gin.Context) {
	instanceID, ok := h.ownedInstance(c)
	if !ok {
		return
	}
	var req failureRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	kind := learning.ClassifyError(req.ErrorMessage, req.Extra)
	if strings.TrimSpace(req.ErrorType) != "" {
		kind = learning.ParseErrorKind(req.ErrorType)
	}
	detail := req.Detail
	if extra := strings.TrimSpace(req.Extra); extra != "" {
		if detail == nil {
			detail = make(map[string]any, 1)
		}
		detail["extra"] = extra
	}

	if errRecord := h.recorder.RecordFailure(c.Request.Context(), instanceID, kind, req.ErrorMessage, detail); errRecord != nil {
		h.writeRecordError(c, instanceID, errRecord)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "error_type": kind})
}

// ownedInstance resolves :id and checks it belongs to the caller.
// Instances of other users are reported as missing.
func (h *InstanceHandler) ownedInstance(c *gin.Context) (uint64, bool) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	instanceID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return 0, false
	}
	var count int64
	errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.ModelInstance{}).
		Joins("JOIN provider_credentials ON provider_credentials.id = model_instances.credential_id").
		Where("model_instances.id = ? AND provider_credentials.user_id = ?", instanceID, userID).
		Count(&count).Error
	if errCount != nil {
		log.WithError(errCount).WithField("instance_id", instanceID).Error("load instance failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load instance failed"})
		return 0, false
	}
	if count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return 0, false
	}
	return instanceID, true
}

func (h *InstanceHandler) writeRecordError(c *gin.Context, instanceID uint64, errRecord error) {
	if errors.Is(errRecord, learning.ErrInstanceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}
	log.WithError(errRecord).WithField("instance_id", instanceID).Error("record outcome failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "record outcome failed"})
}
