package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ringlink/ringlink-server/internal/auth"
	"github.com/ringlink/ringlink-server/internal/config"
	"github.com/ringlink/ringlink-server/internal/presence"
	"github.com/ringlink/ringlink-server/internal/proto"
	"github.com/ringlink/ringlink-server/internal/store"
)

// Deps carries the collaborators the HTTP surface exposes. CallStore
// may be nil when history persistence is disabled.
type Deps struct {
	Verifier  *auth.Verifier
	Presence  *presence.Tracker
	CallStore store.CallStore
	WS        http.Handler
	Metrics   *prometheus.Registry
}

// NewServer builds the HTTP server: health and metrics endpoints, the
// websocket upgrade path, and the authenticated REST API.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"protocol_version": proto.ProtocolVersion,
		})
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	// The websocket handler authenticates the upgrade itself; query
	// token auth does not fit the Bearer middleware.
	router.GET("/ws", gin.WrapH(deps.WS))

	presenceHandlers := NewPresenceHandlers(deps.Presence, logger)
	callsHandlers := NewCallsHandlers(deps.CallStore, logger)

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(deps.Verifier, logger))
	{
		v1.GET("/presence/online", presenceHandlers.ListOnline)
		v1.GET("/presence/:user_id", presenceHandlers.GetUser)
		v1.GET("/calls/recent", callsHandlers.ListRecent)
		v1.GET("/calls/:call_id", callsHandlers.GetCall)
	}

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
