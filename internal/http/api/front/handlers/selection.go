package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/selector"
	log "github.com/sirupsen/logrus"
)

// modelSelector is satisfied by *selector.Selector.
type modelSelector interface {
	FindBestModel(ctx context.Context, req selector.Request) (selector.Result, error)
}

// SelectionHandler serves model selection.
type SelectionHandler struct {
	selector modelSelector
}

// NewSelectionHandler constructs a SelectionHandler.
func NewSelectionHandler(s modelSelector) *SelectionHandler {
	return &SelectionHandler{selector: s}
}

// Select picks the best model for the caller's request.
func (h *SelectionHandler) Select(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req selector.Request
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MinContextWindow < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_context_window"})
		return
	}
	req.UserID = userID

	result, errFind := h.selector.FindBestModel(c.Request.Context(), req)
	if errFind != nil {
		log.WithError(errFind).WithField("user_id", userID).Error("selection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "selection failed"})
		return
	}

	resp := gin.H{
		"success":      result.Success,
		"confidence":   result.Confidence,
		"alternatives": newCandidateViews(result.Alternatives),
	}
	if result.Model != nil {
		resp["model"] = newCandidateView(*result.Model)
	} else {
		resp["model"] = nil
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	c.JSON(http.StatusOK, resp)
}
