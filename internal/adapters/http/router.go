// Package http exposes the session snapshot to local tooling. The
// rendering collaborator consumes state snapshots, never live handles;
// this is the pull-side complement of the push StateSink.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/app"
	"github.com/karyven/peerchat/internal/config"
)

func SetupRouter(cfg *config.Config, mgr *app.Manager) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.Snapshot())
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	return r
}
