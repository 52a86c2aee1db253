package gateway

import (
	"github.com/dkeye/groundvoice/internal/config"
	"github.com/gin-gonic/gin"
)

// SetupRouter wires the gateway's WebSocket endpoint onto a gin engine.
// Unlike the cookie-session router it's grounded on, there is no
// per-connection cookie middleware — identity comes from the Hello
// handshake's bearer token, not a client-set cookie.
func SetupRouter(cfg *config.Config, gw *Gateway) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	api := r.Group("/api")
	api.GET("/ws/signal", gw.HandleWebSocket)

	return r
}
