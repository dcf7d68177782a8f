// Package httpapi exposes the call UI contract over HTTP and WebSocket:
// REST actions in, state snapshots out.
package httpapi

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zenith-app/calls/internal/call"
	"github.com/zenith-app/calls/internal/config"
	"github.com/zenith-app/calls/internal/session"
)

// ClientTokenMiddleware pins a stable per-client id into a cookie; it
// doubles as the user id for calls started from this client.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, mgr *call.Manager, lc *session.Lifecycle, pc *session.PersonalCalls) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ZenithCalls", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{mgr: mgr, lifecycle: lc, personal: pc}

	api := r.Group("/api")
	api.POST("/study", h.createStudySession)
	api.GET("/study/:code", h.studySessionExists)
	api.POST("/study/:code/join", h.joinStudySession)
	api.POST("/study/leave", h.leaveStudySession)
	api.POST("/study/end", h.endStudySession)
	api.POST("/mic/toggle", h.toggleMic)
	api.GET("/state", h.callState)
	api.GET("/ws/state", func(c *gin.Context) { h.streamState(ctx, c) })

	api.POST("/calls/:conversation/start", h.startPersonalCall)
	api.POST("/calls/:conversation/accept", h.acceptPersonalCall)
	api.POST("/calls/:conversation/decline", h.declinePersonalCall)
	api.POST("/calls/:conversation/hangup", h.hangupPersonalCall)
	api.GET("/calls/:conversation/ws", func(c *gin.Context) { h.streamCallRecord(ctx, c) })

	return r
}
