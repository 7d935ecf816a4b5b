package server

import (
	"net/http"
	"time"

	"roomcast/internal/auth"
	"roomcast/internal/bus"
	"roomcast/internal/config"
	"roomcast/internal/metrics"
	"roomcast/internal/mw"
	"roomcast/internal/service"
	"roomcast/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter wires the gin middleware, the REST API and the websocket
// endpoints.
func SetupRouter(cfg config.Config, db *gorm.DB, svc *service.Services, b bus.Bus) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(svc)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.POST("/rooms/:id/mute", h.MuteRoom)
	authed.POST("/rooms/:id/unmute", h.UnmuteRoom)
	authed.GET("/rooms/:id/users", h.ListRoomUsers)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/rooms/:id/messages", h.CreateMessage)
	authed.PUT("/messages/:id", h.UpdateMessage)
	authed.DELETE("/messages/:id", h.DeleteMessage)
	authed.POST("/messages/seen", h.MarkSeen)
	authed.POST("/messages/:id/images", h.AttachImage)

	r.GET("/ws", ws.ServeAggregate(db, cfg, svc, b))
	r.GET("/ws/rooms/:id", ws.ServeRoom(db, cfg, svc, b))

	return r
}
