package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vocalis-ai/vocalis/internal/app"
)

// InitializeRoutes mounts the websocket endpoint and the health probe.
func InitializeRoutes(router *gin.Engine, a *app.App) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": a.Registry.Len(),
		})
	})

	a.WS.RegisterRoutes(router)
}
