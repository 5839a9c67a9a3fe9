package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nags45/scalops/internal/auth"
	"github.com/nags45/scalops/internal/awscloud"
	"github.com/nags45/scalops/internal/users"
)

const (
	claimsContextKey = "scalops_claims"
	userIDContextKey = "scalops_user_id"
)

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUserStore    = errors.New("user store dependency required")
	errMissingLinker       = errors.New("account linker dependency required")
	errMissingValidator    = errors.New("credential validator dependency required")

	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// TokenManager issues and verifies the stateless session tokens.
type TokenManager interface {
	Issue(ctx context.Context, claims auth.IdentityClaims) (string, int64, error)
	Verify(token string) (auth.SessionClaims, error)
}

// GoogleVerifier verifies provider-asserted ID tokens for the federated flow.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// AccountLinker drives the credential-linking workflow for a verified user.
type AccountLinker interface {
	Link(ctx context.Context, userID, accessKeyID, secretAccessKey string) (awscloud.CallerIdentity, error)
	RefreshStatus(ctx context.Context, userID string) (awscloud.CallerIdentity, error)
}

// CredentialTester checks a candidate pair without touching any user record.
type CredentialTester interface {
	TestCredentials(ctx context.Context, accessKeyID, secretAccessKey string) (awscloud.CallerIdentity, error)
}

// Dependencies wires the HTTP surface to the rest of the system.
type Dependencies struct {
	Store          *users.Store
	Tokens         TokenManager
	GoogleVerifier GoogleVerifier
	Linker         AccountLinker
	Validator      CredentialTester
	Logger         *zap.Logger
	ClientOrigin   string
}

// NewHTTPHandler builds the gin router with validated dependencies.
// GoogleVerifier is optional; without it the federated routes answer 501.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Store == nil {
		return nil, errMissingUserStore
	}
	if deps.Linker == nil {
		return nil, errMissingLinker
	}
	if deps.Validator == nil {
		return nil, errMissingValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOrigin := strings.TrimRight(strings.TrimSpace(deps.ClientOrigin), "/")

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if clientOrigin != "" {
		corsConfig.AllowOrigins = []string{clientOrigin}
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowOrigins = []string{"*"}
	}
	router.Use(cors.New(corsConfig))

	handler := &httpHandler{
		store:        deps.Store,
		tokens:       deps.Tokens,
		google:       deps.GoogleVerifier,
		linker:       deps.Linker,
		validator:    deps.Validator,
		logger:       logger,
		clientOrigin: clientOrigin,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api")
	api.POST("/auth/register", handler.handleRegister)
	api.POST("/auth/login", handler.handleLogin)
	api.POST("/auth/google", handler.handleGoogleAuth)
	api.GET("/auth/google/callback", handler.handleGoogleCallback)
	api.POST("/aws/credentials/test", handler.handleTestCredentials)

	protected := api.Group("/")
	protected.Use(handler.sessionGuard)
	protected.GET("/auth/verify", handler.handleVerify)
	protected.POST("/aws/credentials/link", handler.handleLinkCredentials)
	protected.POST("/aws/credentials/refresh", handler.handleRefreshCredentials)
	protected.GET("/users/:id/status", handler.handleUserStatus)

	return router, nil
}

type httpHandler struct {
	store        *users.Store
	tokens       TokenManager
	google       GoogleVerifier
	linker       AccountLinker
	validator    CredentialTester
	logger       *zap.Logger
	clientOrigin string
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionGuard verifies the bearer token on every protected request and is the
// only source of trusted identity for downstream handlers. Each service
// boundary repeats this check independently; there is no shared session state.
func (h *httpHandler) sessionGuard(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing"})
		return
	}
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header malformed"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token missing"})
		return
	}

	claims, err := h.tokens.Verify(token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			h.logger.Info("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid token"})
		}
		return
	}

	c.Set(claimsContextKey, claims)
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func sessionClaimsFrom(c *gin.Context) (auth.SessionClaims, bool) {
	value, exists := c.Get(claimsContextKey)
	if !exists {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

type identitySummary struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

func summarize(user *users.User) identitySummary {
	return identitySummary{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Provider: user.Provider,
	}
}

func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}
