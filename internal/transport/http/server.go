package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/olab/turktalk-server/internal/auth"
	"github.com/olab/turktalk-server/internal/conference"
	"github.com/olab/turktalk-server/internal/config"
)

// NewServer builds the HTTP server hosting the auth, inspection and
// websocket surfaces.
func NewServer(conf *conference.Conference, registry *Registry, authService *auth.Service, cfg config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	authHandlers := NewAuthHandlers(authService, logger)
	authGroup := engine.Group("/auth")
	{
		authGroup.POST("/register", authHandlers.Register)
		authGroup.POST("/login", authHandlers.Login)
		authGroup.POST("/guest", authHandlers.Guest)
	}

	topicHandlers := NewTopicHandlers(conf)
	api := engine.Group("/api", AuthMiddleware(authService, logger))
	{
		api.GET("/topics", topicHandlers.List)
		api.GET("/topics/:name", topicHandlers.Get)
	}

	wsHandler := NewWSHandler(conf, registry, authService, logger)
	engine.GET("/ws", wsHandler.Handle)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
