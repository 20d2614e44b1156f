package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tunogya/tkg/pkg/window"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is one frame sent to stream subscribers
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Stream upgrades to a websocket and pushes every view change, including
// each autoplay step. Frames a slow client misses are coalesced.
func (h *Handler) Stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	views, cancel := h.svc.Watch()
	defer cancel()

	// the read loop only services control frames and notices disconnects
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if err := writeView(conn, v); err != nil {
				h.logger.Debug().Err(err).Msg("websocket write failed")
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func writeView(conn *websocket.Conn, v window.View) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(WSMessage{Type: "view", Payload: v})
}
