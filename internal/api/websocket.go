package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/events"
)

const (
	// Number of recent events to send on connection
	recentEventsCount = 50

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The editor is served from another origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEventsHandler streams audit events: the recent backlog first, then every
// new event until the peer goes away. ?events=branch.,scenario. narrows the
// stream to those name prefixes.
func (s *Server) wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter := events.ParseFilter(r.URL.Query().Get("events"))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	sub := events.Subscribe(filter)
	defer func() {
		events.Unsubscribe(sub)
		if n := sub.Dropped(); n > 0 {
			s.logger.Info("ws client lagged", zap.Uint64("dropped_events", n), zap.String("remote", r.RemoteAddr))
		}
	}()
	defer conn.Close()

	for _, e := range events.RecentEvents(recentEventsCount, filter) {
		if err := writeEvent(conn, e); err != nil {
			s.logger.Debug("ws write recent event failed", zap.Error(err))
			return
		}
	}

	// Reader handles pongs and close messages.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(conn, e); err != nil {
				s.logger.Debug("ws write event failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
