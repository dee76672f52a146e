package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pingline/pingline-server/internal/auth"
	"github.com/pingline/pingline-server/internal/config"
	"github.com/pingline/pingline-server/internal/core"
	"github.com/pingline/pingline-server/internal/store"
)

// NewServer builds the HTTP server: REST API, upload handling and the
// WebSocket endpoint.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) (*stdhttp.Server, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(authService, logger)
	users := NewUserHandlers(st, hub.Presence(), logger)
	uploads, err := NewUploadHandlers(cfg.UploadDir, cfg.UploadBaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("init uploads: %w", err)
	}

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)
	router.POST("/api/guest", api.GuestLogin)

	authorized := router.Group("/api", AuthMiddleware(authService, logger))
	authorized.GET("/users", users.ListUsers)
	authorized.POST("/upload", uploads.Upload)

	router.Static("/uploads", cfg.UploadDir)

	ws := NewWSHandler(hub, authService, cfg.SessionBuffer, logger)
	router.GET("/ws", gin.WrapH(ws))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}, nil
}
