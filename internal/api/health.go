package api

import (
	"net/http"

	"github.com/cozy-creator/captioner/internal/app"
	"github.com/gin-gonic/gin"
)

func HealthHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	backend := ""
	if app.Generator() != nil {
		backend = app.Generator().Name()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"backend": backend,
		"model":   app.Config().Model.ID,
	})
}
