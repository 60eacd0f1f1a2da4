package tokensvc

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/jwt"
	"github.com/nadimpalla570/myazan-app/internal/log"
	"github.com/nadimpalla570/myazan-app/internal/validation"
)

// IssueRequest is the credential issue payload
type IssueRequest struct {
	ChannelName string `json:"channelName" binding:"required,channelname"`
	Identity    string `json:"identity" binding:"required,identity"`
	Role        string `json:"role" binding:"required,role"`
}

type Router struct {
	svc     *Service
	jwtAuth jwt.Auth
	engine  *gin.Engine
	logger  *log.Logger
}

func NewRouter(svc *Service, jwtAuth jwt.Auth, logger *log.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("tokend"))

	r := &Router{
		svc:     svc,
		jwtAuth: jwtAuth,
		engine:  engine,
		logger:  logger,
	}

	r.engine.POST("/v1/credentials", r.issue)
	r.engine.GET("/health", r.healthCheck)
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) issue(c *gin.Context) {
	token := c.GetHeader("Authorization")
	if strings.HasPrefix(token, "Bearer ") {
		token = token[7:]
	}
	payload, err := r.jwtAuth.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid identity token"})
		return
	}

	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	// A caller may only request credentials for itself.
	if req.Identity != payload.Identity {
		c.JSON(http.StatusForbidden, gin.H{"error": "identity does not match token subject"})
		return
	}

	cred, err := r.svc.Issue(c.Request.Context(), req.ChannelName, req.Identity, constants.Role(req.Role))
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "issue rate exceeded"})
			return
		}
		r.logger.Error("Failed to issue credential", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue credential"})
		return
	}

	c.JSON(http.StatusOK, cred)
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
