package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter собирает HTTP API сервиса.
func NewRouter(h *Handler, logger *zap.Logger, version string) *gin.Engine {
	r := gin.New()
	r.Use(Logger(logger))
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": version})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/raster", h.LoadRaster)
		v1.POST("/sample", h.LoadSample)
		v1.GET("/sample/groups", h.Groups)
		v1.GET("/models", h.GetModels)

		v1.POST("/runs", h.StartRun)
		v1.GET("/runs/current", h.CurrentRun)
		v1.DELETE("/runs/current", h.StopRun)
		v1.POST("/runs/current/export", h.Export)
		v1.GET("/runs/:id", h.GetRun)
	}
	return r
}
