package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeDeadline = 5 * time.Second

// streamState pushes a CallState snapshot on every change. The desktop
// shell holds a single socket here for the lifetime of the window.
func (h *handlers) streamState(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("ws upgrade")
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reader only to detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeJSON(ws, h.mgr.State()); err != nil {
		return
	}
	updates := h.mgr.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			if err := writeJSON(ws, st); err != nil {
				log.Debug().Err(err).Str("module", "httpapi").Msg("state push ended")
				return
			}
		}
	}
}

// streamCallRecord pushes 1:1 call record snapshots for one conversation
// and drives the local side of the ringing protocol while attached.
func (h *handlers) streamCallRecord(ctx context.Context, c *gin.Context) {
	conversationID := c.Param("conversation")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("ws upgrade")
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recs := make(chan domain.CallRecord, 8)
	unsub, err := h.personal.WatchConversation(ctx, conversationID, selfID(c), func(rec domain.CallRecord) {
		select {
		case recs <- rec:
		default:
		}
	})
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Str("conversation", conversationID).Msg("watch conversation")
		return
	}
	defer unsub()

	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-recs:
			if err := writeJSON(ws, rec); err != nil {
				log.Debug().Err(err).Str("module", "httpapi").Msg("record push ended")
				return
			}
		}
	}
}

func writeJSON(ws *websocket.Conn, v any) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return ws.WriteJSON(v)
}
