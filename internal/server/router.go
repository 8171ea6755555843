package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ironpulse/gymgate/internal/access"
	"github.com/ironpulse/gymgate/internal/devicehub"
	"github.com/ironpulse/gymgate/internal/directory"
	"github.com/ironpulse/gymgate/internal/gate"
)

const userIDContextKey = "gymgate_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingAccessService = errors.New("access service dependency required")
	errMissingGateControl   = errors.New("gate controller dependency required")
	errMissingRegistry      = errors.New("device registry dependency required")
	errMissingDirectory     = errors.New("directory dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer token and returns its subject.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Directory resolves acting users for authorization decisions.
type Directory interface {
	FindUser(ctx context.Context, userID string) (*directory.User, error)
}

type Dependencies struct {
	TokenManager  TokenValidator
	AccessService *access.Service
	Gate          *gate.Controller
	Registry      *devicehub.Registry
	Directory     Directory
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.AccessService == nil {
		return nil, errMissingAccessService
	}
	if deps.Gate == nil {
		return nil, errMissingGateControl
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		service:   deps.AccessService,
		gate:      deps.Gate,
		registry:  deps.Registry,
		directory: deps.Directory,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	// Device-facing endpoints carry no bearer token; the firmware identifies
	// itself by gym owner id alone.
	router.POST("/nodemcu/verify", handler.handleNodeMCUVerify)
	router.GET("/devices/stream", handler.handleDeviceStream)
	router.POST("/devices/heartbeat", handler.handleDeviceHeartbeat)
	router.POST("/devices/validate", handler.handleDeviceValidate)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/access/verify", handler.handleAccessVerify)
	protected.POST("/access/staff-entry", handler.handleStaffEntry)
	protected.GET("/access/logs", handler.handleAccessLogs)
	protected.POST("/gate/toggle", handler.handleGateToggle)
	protected.GET("/gate/status", handler.handleGateStatus)
	protected.POST("/gate/emergency", handler.handleGateEmergency)
	protected.GET("/devices/connected", handler.handleConnectedDevices)

	return router, nil
}

type httpHandler struct {
	tokens    TokenValidator
	service   *access.Service
	gate      *gate.Controller
	registry  *devicehub.Registry
	directory Directory
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
