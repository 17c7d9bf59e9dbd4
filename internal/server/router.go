package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cheongam/chatbot-backend/internal/http/handlers"
	"github.com/cheongam/chatbot-backend/internal/http/middleware"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	CORSOrigins []string
	TracingOn   bool
	StaticDir   string

	AuthHandler     *handlers.AuthHandler
	ChatHandler     *handlers.ChatHandler
	DocumentHandler *handlers.DocumentHandler
	SessionHandler  *handlers.SessionHandler
	UsageHandler    *handlers.UsageHandler
	HealthHandler   *handlers.HealthHandler
	AuthMiddleware  *middleware.AuthMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.TracingOn {
		router.Use(otelgin.Middleware("chatbot-backend"))
	}
	router.Use(middleware.AttachTraceContext())
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": "청암 챗봇 API", "status": "running"})
	})

	api := router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/register", cfg.AuthHandler.Register)
		auth.POST("/login", cfg.AuthHandler.Login)
		// Refresh stays public: the whole point is trading an expired access
		// token for a new one.
		auth.POST("/refresh", cfg.AuthHandler.Refresh)
	}

	health := api.Group("/health")
	{
		health.GET("", cfg.HealthHandler.Health)
		health.GET("/components", cfg.HealthHandler.Components)
		health.GET("/metrics", cfg.HealthHandler.Metrics)
		health.GET("/readiness", cfg.HealthHandler.Readiness)
		health.GET("/liveness", cfg.HealthHandler.Liveness)
	}

	if cfg.StaticDir != "" {
		router.Static("/web", cfg.StaticDir)
	}

	// ===============
	// || Protected ||
	// ===============
	protected := api.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	protected.POST("/auth/logout", cfg.AuthHandler.Logout)
	protected.GET("/auth/me", cfg.AuthHandler.Me)
	protected.GET("/auth/verify", cfg.AuthHandler.Verify)

	protected.POST("/chat", cfg.ChatHandler.Send)
	protected.GET("/chat/strategies", cfg.ChatHandler.Strategies)
	protected.POST("/chat/strategy", cfg.AuthMiddleware.RequireAdmin(), cfg.ChatHandler.SetStrategy)

	documents := protected.Group("/documents")
	{
		documents.POST("/upload", cfg.DocumentHandler.Upload)
		documents.GET("", cfg.DocumentHandler.List)
		documents.GET("/:id", cfg.DocumentHandler.Get)
		documents.GET("/:id/download", cfg.DocumentHandler.Download)
		documents.DELETE("/:id", cfg.DocumentHandler.Delete)
		documents.POST("/sync", cfg.AuthMiddleware.RequireAdmin(), cfg.DocumentHandler.Sync)
	}

	sessions := protected.Group("/sessions")
	{
		sessions.GET("", cfg.SessionHandler.List)
		sessions.GET("/:id", cfg.SessionHandler.Get)
		sessions.PUT("/:id/title", cfg.SessionHandler.Rename)
		sessions.DELETE("/:id", cfg.SessionHandler.Delete)
		sessions.GET("/:id/export", cfg.SessionHandler.Export)
	}

	usage := protected.Group("/usage")
	{
		usage.GET("/summary", cfg.UsageHandler.Summary)
		usage.GET("/quota", cfg.UsageHandler.Quota)
		usage.GET("/metrics", cfg.AuthMiddleware.RequireAdmin(), cfg.UsageHandler.Metrics)
		usage.GET("/history", cfg.UsageHandler.History)
		usage.POST("/track", cfg.UsageHandler.Track)
	}

	return router
}
