package server

import (
	"github.com/cozy-creator/captioner/internal/api"
	"github.com/cozy-creator/captioner/internal/api/middleware"
	"github.com/cozy-creator/captioner/internal/app"
	"github.com/gin-gonic/gin"
)

func (s *Server) SetupRoutes(app *app.App) {
	s.ginEngine.GET("/health", handlerWrapper(app, api.HealthHandler))

	jobs := s.ginEngine.Group("/")
	if !app.Config().Server.DisableAuth {
		jobs.Use(handlerWrapper(app, middleware.AuthenticationMiddleware))
	}

	jobs.POST("/run", handlerWrapper(app, api.RunHandler))
	jobs.POST("/runsync", handlerWrapper(app, api.RunSyncHandler))
	jobs.GET("/status/:id", handlerWrapper(app, api.StatusHandler))
	jobs.POST("/cancel/:id", handlerWrapper(app, api.CancelHandler))
}

func handlerWrapper(app *app.App, f func(c *gin.Context)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set("app", app)
		f(ctx)
	}
}
