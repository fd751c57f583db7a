package handlers

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/viperadnan-git/medialoader/internal/core/statusloop"
)

const writeWait = 10 * time.Second

// Streamer is the broadcaster feed.
type Streamer interface {
	Stream(ctx context.Context) iter.Seq[statusloop.Snapshot]
}

type StreamHandler struct {
	feed     Streamer
	upgrader websocket.Upgrader
}

func NewStreamHandler(feed Streamer) *StreamHandler {
	return &StreamHandler{
		feed: feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the connection and writes every snapshot as a JSON text
// frame until the client goes away.
func (h *StreamHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// Observers only listen; a read error means the peer closed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snap := range h.feed.Stream(ctx) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			log.Debug().Err(err).Msg("stream client dropped")
			break
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}
