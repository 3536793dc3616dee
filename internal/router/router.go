package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"focusflow/backend/internal/handler"
	"focusflow/backend/internal/middleware"
	"focusflow/backend/internal/service"
)

func New(
	authService *service.AuthService,
	authHandler *handler.AuthHandler,
	sessionHandler *handler.SessionHandler,
	corsOrigins []string,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), middleware.CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	focus := api.Group("/focus")
	focus.Use(middleware.Auth(authService))
	focus.POST("/start", sessionHandler.Start)
	focus.POST("/pause", sessionHandler.Pause)
	focus.POST("/resume", sessionHandler.Resume)
	focus.POST("/stop", sessionHandler.Stop)
	focus.GET("/active", sessionHandler.GetActive)
	focus.GET("/stats/daily", sessionHandler.GetDailyStats)
	focus.GET("/history", sessionHandler.GetHistory)

	return engine
}
