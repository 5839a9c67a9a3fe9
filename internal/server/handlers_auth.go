package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nags45/scalops/internal/auth"
	"github.com/nags45/scalops/internal/users"
)

const minPasswordLength = 6

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type googleAuthRequestPayload struct {
	IDToken string `json:"id_token"`
}

type tokenResponsePayload struct {
	Token     string          `json:"token"`
	TokenType string          `json:"token_type"`
	ExpiresIn int64           `json:"expires_in"`
	User      identitySummary `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	email := strings.TrimSpace(request.Email)
	if email == "" || strings.TrimSpace(request.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password cannot be empty"})
		return
	}
	if !validEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email format"})
		return
	}

	user, err := h.store.FindByEmail(c.Request.Context(), email)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		h.logger.Error("login lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	// Unknown user and wrong password collapse to the same answer so the
	// endpoint does not reveal which emails are registered.
	if err != nil || user.Provider != users.ProviderLocal || !auth.CheckPassword(user.PasswordHash, request.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, password, and name are required"})
		return
	}

	email := strings.TrimSpace(request.Email)
	name := strings.TrimSpace(request.Name)
	if email == "" || strings.TrimSpace(request.Password) == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "all fields are required"})
		return
	}
	if !validEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email format"})
		return
	}
	if len(request.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters long"})
		return
	}

	existing, err := h.store.FindByEmail(c.Request.Context(), email)
	if err == nil {
		if existing.Provider == users.ProviderLocal {
			c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
		} else {
			c.JSON(http.StatusConflict, gin.H{
				"error": fmt.Sprintf("user already exists. Please sign in with %s.", existing.Provider),
			})
		}
		return
	}
	if !errors.Is(err, users.ErrNotFound) {
		h.logger.Error("registration lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	user, err := h.store.Create(c.Request.Context(), users.NewUserAttrs{
		Email:    email,
		Password: request.Password,
		Name:     name,
		Provider: users.ProviderLocal,
	})
	if errors.Is(err, users.ErrDuplicateEmail) {
		// Lost a registration race; exactly one caller wins the constraint.
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
		return
	}
	if err != nil {
		h.logger.Error("user creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "google sign-in not configured"})
		return
	}

	var request googleAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id_token is required"})
		return
	}

	claims, err := h.google.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.findOrCreateGoogleUser(c, claims)
	if err != nil {
		return
	}
	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) handleGoogleCallback(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "google sign-in not configured"})
		return
	}

	credential := strings.TrimSpace(c.Query("credential"))
	if credential == "" {
		c.Redirect(http.StatusFound, h.clientOrigin+"/login?error=missing_credential")
		return
	}

	claims, err := h.google.Verify(c.Request.Context(), credential)
	if err != nil {
		h.logger.Warn("google callback verification failed", zap.Error(err))
		c.Redirect(http.StatusFound, h.clientOrigin+"/login?error=auth_failed")
		return
	}

	user, err := h.findOrCreateGoogleUser(c, claims)
	if err != nil {
		return
	}

	token, _, err := h.tokens.Issue(c.Request.Context(), auth.IdentityClaims{
		UserID:   user.ID,
		Email:    user.Email,
		Provider: user.Provider,
		Name:     user.Name,
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.Redirect(http.StatusFound, h.clientOrigin+"/auth/callback?token="+url.QueryEscape(token))
}

// findOrCreateGoogleUser resolves the federated subject id to a user record,
// creating it on first login. It writes its own error responses and returns a
// nil user when the request is already answered.
func (h *httpHandler) findOrCreateGoogleUser(c *gin.Context, claims auth.GoogleClaims) (*users.User, error) {
	user, err := h.store.FindByGoogleID(c.Request.Context(), claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		h.logger.Error("google user lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil, err
	}

	user, err = h.store.Create(c.Request.Context(), users.NewUserAttrs{
		Email:    claims.Email,
		Name:     claims.Name,
		Provider: users.ProviderGoogle,
		GoogleID: claims.Subject,
	})
	if errors.Is(err, users.ErrDuplicateGoogleID) {
		// Lost a first-login race; the winner's record is the one to use.
		user, err = h.store.FindByGoogleID(c.Request.Context(), claims.Subject)
		if err == nil {
			return user, nil
		}
	}
	if errors.Is(err, users.ErrDuplicateEmail) {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered with a different sign-in method"})
		return nil, err
	}
	if err != nil {
		h.logger.Error("google user creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil, err
	}
	return user, nil
}

func (h *httpHandler) handleVerify(c *gin.Context) {
	claims, ok := sessionClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  claims.UserID,
		"email":    claims.Email,
		"provider": claims.Provider,
		"name":     claims.Name,
	})
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, user *users.User) {
	token, expiresIn, err := h.tokens.Issue(c.Request.Context(), auth.IdentityClaims{
		UserID:   user.ID,
		Email:    user.Email,
		Provider: user.Provider,
		Name:     user.Name,
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(status, tokenResponsePayload{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: expiresIn,
		User:      summarize(user),
	})
}
