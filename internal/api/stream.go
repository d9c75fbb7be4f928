package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gyaneshwarpardhi/nodeflow/internal/event"
	"github.com/gyaneshwarpardhi/nodeflow/internal/metrics"
)

const (
	streamBuffer = 256
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GET /v1/events: WebSocket stream of state, status and idle notifications.
// The current state of every node is sent first.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s := event.NewStream(streamBuffer, func(ev *event.Event) {
		metrics.StreamDropped.Inc()
	})
	snaps, unsubscribe, err := h.eng.SubscribeSnapshot(s)
	defer unsubscribe()
	if err != nil {
		return
	}

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()
	slog.Info("event stream connected", "client", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reads only serve to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, snap := range snaps {
		if err := writeEvent(conn, event.StateChanged(snap.ID, snap.State)); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("event stream closed", "client", r.RemoteAddr)
			return
		case ev := <-s.Events():
			if err := writeEvent(conn, ev); err != nil {
				slog.Warn("event stream write failed", "client", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev *event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
