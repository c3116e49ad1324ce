package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vividoc/backend/config"
	"github.com/vividoc/backend/internal/handler"
)

func Setup(
	cfg *config.Config,
	specHandler *handler.SpecHandler,
	docHandler *handler.DocumentHandler,
	jobHandler *handler.JobHandler,
	configHandler *handler.ConfigHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		spec := api.Group("/spec")
		{
			spec.GET("", specHandler.List)
			spec.POST("/generate", specHandler.Generate)
			spec.GET("/:id", specHandler.Get)
			spec.PUT("/:id", specHandler.Update)
			spec.DELETE("/:id", specHandler.Delete)
		}

		docs := api.Group("/document")
		{
			docs.GET("", docHandler.List)
			docs.POST("/generate", docHandler.Generate)
			docs.GET("/:id", docHandler.Get)
			docs.DELETE("/:id", docHandler.Delete)
		}

		jobs := api.Group("/jobs")
		{
			jobs.GET("/stats", jobHandler.Stats)
			jobs.GET("/:id/status", jobHandler.Status)
		}

		api.GET("/config", configHandler.Get)
		api.PUT("/config", configHandler.Update)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}
