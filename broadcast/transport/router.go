package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/jwt"
	"github.com/nadimpalla570/myazan-app/internal/log"
	"github.com/nadimpalla570/myazan-app/internal/validation"
	"github.com/nadimpalla570/myazan-app/mediatransport"
)

const identityKey = "identity"

// BroadcastService is the coordinator surface the HTTP layer exposes.
type BroadcastService interface {
	StartBroadcast(ctx context.Context, senderID string) (*broadcast.Session, error)
	EndBroadcast(ctx context.Context, sessionID, identity string) error
	ListenAsReceiver(ctx context.Context, identity string, senderIDs []string) error
	ActiveChannels() []string
	IsChannelActive(ctx context.Context, channelName string) bool
	Reclaim(ctx context.Context) (int, error)
}

type Router struct {
	svc     BroadcastService
	jwtAuth jwt.Auth
	engine  *gin.Engine
	logger  *log.Logger
}

func NewRouter(svc BroadcastService, jwtAuth jwt.Auth, logger *log.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("azand"))
	engine.Use(cors.Default())

	r := &Router{
		svc:     svc,
		jwtAuth: jwtAuth,
		engine:  engine,
		logger:  logger,
	}

	r.engine.Use(func(c *gin.Context) {
		r.logger.Info("Incoming request",
			log.String("method", c.Request.Method),
			log.String("url", c.Request.URL.String()))
		c.Next()
	})

	r.setupRoutes()
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	api := r.engine.Group("/api/v1", r.authenticate)
	api.POST("/broadcasts", r.startBroadcast)
	api.DELETE("/broadcasts/:sessionId", r.endBroadcast)
	api.POST("/listen", r.startListening)
	api.GET("/channels", r.listChannels)
	api.GET("/channels/:channelName/active", r.channelActive)
	api.POST("/reclaim", r.reclaim)
	api.GET("/stats", r.getStats)
}

// authenticate resolves the caller identity from the bearer token.
func (r *Router) authenticate(c *gin.Context) {
	token := c.GetHeader("Authorization")
	if strings.HasPrefix(token, "Bearer ") {
		token = token[7:]
	}

	payload, err := r.jwtAuth.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "invalid identity token",
		})
		return
	}

	c.Set(identityKey, payload.Identity)
	c.Next()
}

func (r *Router) identity(c *gin.Context) string {
	return c.GetString(identityKey)
}

func (r *Router) startBroadcast(c *gin.Context) {
	var req StartBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	// Only the sender itself may start its broadcast.
	if req.SenderID != r.identity(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "senderId does not match authenticated identity",
		})
		return
	}

	session, err := r.svc.StartBroadcast(c.Request.Context(), req.SenderID)
	if err != nil {
		switch {
		case errors.Is(err, broadcast.ErrCollision):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error":   "a live broadcast already exists for this channel",
			})
		case errors.Is(err, mediatransport.ErrTransport):
			r.logger.Error("Transport join failed", log.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error":   "media transport unavailable, reconnect required",
			})
		default:
			r.logger.Error("Failed to start broadcast", log.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error":   "failed to start broadcast",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"session": session,
	})
}

func (r *Router) endBroadcast(c *gin.Context) {
	var req EndBroadcastRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	if err := r.svc.EndBroadcast(c.Request.Context(), req.SessionID, r.identity(c)); err != nil {
		if errors.Is(err, broadcast.ErrNotSessionOwner) {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "session belongs to another sender",
			})
			return
		}
		r.logger.Error("Failed to end broadcast", log.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "failed to end broadcast",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (r *Router) startListening(c *gin.Context) {
	var req ListenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	if err := r.svc.ListenAsReceiver(c.Request.Context(), r.identity(c), req.SenderIDs); err != nil {
		r.logger.Error("Failed to start listening", log.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "failed to start listening",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (r *Router) listChannels(c *gin.Context) {
	channels := r.svc.ActiveChannels()
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"count":    len(channels),
		"channels": channels,
	})
}

func (r *Router) channelActive(c *gin.Context) {
	var req ChannelRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"active":  r.svc.IsChannelActive(c.Request.Context(), req.ChannelName),
	})
}

func (r *Router) reclaim(c *gin.Context) {
	reclaimed, err := r.svc.Reclaim(c.Request.Context())
	if err != nil {
		r.logger.Error("On-demand reclaim failed", log.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "reclaim failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"reclaimed": reclaimed,
	})
}

func (r *Router) getStats(c *gin.Context) {
	channels := r.svc.ActiveChannels()
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"activeChannels": len(channels),
	})
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
