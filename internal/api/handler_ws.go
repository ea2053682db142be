package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"laundry-share-backend/internal/broker"
	"laundry-share-backend/internal/mw"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 10
)

type wsEnvelope struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Origins are enforced by the CORS layer and the auth proxy in front of us.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamStatus pushes the caller's machine status on connect and after
// every lifecycle event.
func (h *Handler) StreamStatus(c *gin.Context) {
	user := mw.CurrentUser(c)
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	events := h.events.Subscribe(broker.TopicMachine)
	defer h.events.Unsubscribe(broker.TopicMachine, events)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(kind string) error {
		env := wsEnvelope{Type: kind}
		st, err := h.cycles.Status(ctx, user)
		if err != nil {
			h.log.Errorw("failed to load status for websocket", "err", err)
			env.Error = "status unavailable"
		} else {
			env.Data = st
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(env)
	}

	if err := send("status"); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := send(ev.Type); err != nil {
				h.log.Debugw("websocket write failed", "err", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
