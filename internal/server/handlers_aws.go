package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nags45/scalops/internal/awscloud"
	"github.com/nags45/scalops/internal/link"
	"github.com/nags45/scalops/internal/users"
)

type credentialsRequestPayload struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

type awsIdentityResponsePayload struct {
	AWSIdentity awscloud.CallerIdentity `json:"aws_identity"`
	Message     string                  `json:"message"`
}

func (h *httpHandler) handleTestCredentials(c *gin.Context) {
	var request credentialsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access key id and secret access key are required"})
		return
	}

	access := strings.TrimSpace(request.AccessKeyID)
	secret := strings.TrimSpace(request.SecretAccessKey)
	if access == "" || secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "aws credentials cannot be empty"})
		return
	}

	identity, err := h.validator.TestCredentials(c.Request.Context(), access, secret)
	if err != nil {
		h.respondAWSError(c, err)
		return
	}

	c.JSON(http.StatusOK, awsIdentityResponsePayload{
		AWSIdentity: identity,
		Message:     "aws credentials are valid",
	})
}

func (h *httpHandler) handleLinkCredentials(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request credentialsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access key id and secret access key are required"})
		return
	}

	identity, err := h.linker.Link(c.Request.Context(), userID, request.AccessKeyID, request.SecretAccessKey)
	if err != nil {
		switch {
		case errors.Is(err, link.ErrEmptyCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": "aws credentials cannot be empty"})
		case errors.Is(err, link.ErrIdentityVanished):
			c.JSON(http.StatusConflict, gin.H{"error": "account no longer exists"})
		default:
			h.respondAWSError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, awsIdentityResponsePayload{
		AWSIdentity: identity,
		Message:     "aws account linked",
	})
}

func (h *httpHandler) handleRefreshCredentials(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	identity, err := h.linker.RefreshStatus(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, link.ErrNotLinked):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no aws credentials linked"})
		default:
			h.respondAWSError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, awsIdentityResponsePayload{
		AWSIdentity: identity,
		Message:     "aws connection successful",
	})
}

func (h *httpHandler) handleUserStatus(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}

	user, err := h.store.FindByID(c.Request.Context(), id)
	if errors.Is(err, users.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		h.logger.Error("status lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":         user.ID,
		"has_credentials": user.HasAWSCredentials(),
	})
}

// respondAWSError maps the validator taxonomy to HTTP categories. The raw
// provider error stays in the server log; clients only see the category hint.
func (h *httpHandler) respondAWSError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, awscloud.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid aws credentials"})
	case errors.Is(err, awscloud.ErrCredentialsExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "aws credentials expired"})
	case errors.Is(err, awscloud.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "aws access denied"})
	case errors.Is(err, awscloud.ErrNetworkTimeout):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "aws connection timeout"})
	case errors.Is(err, awscloud.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "aws unavailable"})
	default:
		h.logger.Error("aws credential check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
