package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/credential"
	"github.com/router-for-me/AIGateway/internal/models"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// credentialManager is satisfied by *credential.Service.
type credentialManager interface {
	Register(ctx context.Context, reg credential.Registration) (*models.ProviderCredential, error)
	Remove(ctx context.Context, userID, credentialID uint64) error
	ListByUser(ctx context.Context, userID uint64) ([]models.ProviderCredential, error)
}

// CredentialHandler serves the caller's provider credentials.
type CredentialHandler struct {
	manager credentialManager
}

// NewCredentialHandler constructs a CredentialHandler.
func NewCredentialHandler(manager credentialManager) *CredentialHandler {
	return &CredentialHandler{manager: manager}
}

type createCredentialRequest struct {
	Provider  string `json:"provider"`
	SecretRef string `json:"secret_ref"`
	Nickname  string `json:"nickname"`
}

// List returns the caller's credentials.
func (h *CredentialHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	rows, errList := h.manager.ListByUser(c.Request.Context(), userID)
	if errList != nil {
		log.WithError(errList).WithField("user_id", userID).Error("list credentials failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list credentials failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": lo.Map(rows, func(row models.ProviderCredential, _ int) credentialView {
		return newCredentialView(row)
	})})
}

// Create registers a credential and provisions its instances.
func (h *CredentialHandler) Create(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req createCredentialRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	cred, errRegister := h.manager.Register(c.Request.Context(), credential.Registration{
		UserID:    userID,
		Provider:  req.Provider,
		SecretRef: req.SecretRef,
		Nickname:  req.Nickname,
	})
	switch {
	case errors.Is(errRegister, credential.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider and secret_ref are required"})
		return
	case errors.Is(errRegister, credential.ErrUnknownProvider):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown provider"})
		return
	case errRegister != nil:
		log.WithError(errRegister).WithField("user_id", userID).Error("register credential failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register credential failed"})
		return
	}
	c.JSON(http.StatusCreated, newCredentialView(*cred))
}

// Delete removes a credential with its instances and failure history.
func (h *CredentialHandler) Delete(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	credentialID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential id"})
		return
	}
	if errRemove := h.manager.Remove(c.Request.Context(), userID, credentialID); errRemove != nil {
		if errors.Is(errRemove, credential.ErrCredentialNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
			return
		}
		log.WithError(errRemove).WithField("credential_id", credentialID).Error("remove credential failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove credential failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
