package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The push endpoint serves local bots and dashboards
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// pushSocket streams fanout messages to a follower. An optional ?pubkey=
// query narrows the stream to one target; without it the client receives
// every push message.
func (s *Server) pushSocket(c echo.Context) error {
	target := c.QueryParam("pubkey")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := s.sink.Subscribe(target)
	s.logger.Info().Str("target_pubkey", target).Msg("push subscriber connected")

	done := make(chan struct{})

	// Reader only watches for the client going away
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		s.sink.Unsubscribe(target, sub)
		conn.Close()
		s.logger.Info().Str("target_pubkey", target).Msg("push subscriber disconnected")
	}()

	for {
		select {
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-done:
			return nil
		}
	}
}
