package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/wesm/argh/internal/engine"
)

const writeTimeout = 5 * time.Second

type eventMessage struct {
	Type       string         `json:"type"`
	Generation uint64         `json:"generation"`
	RepoID     int64          `json:"repo_id,omitempty"`
	Keys       []string       `json:"keys,omitempty"`
	Badge      int            `json:"badge"`
	Counts     map[string]int `json:"counts,omitempty"`
}

func toEventMessage(ev engine.Event) eventMessage {
	msg := eventMessage{
		Type:       ev.Kind.String(),
		Generation: ev.Generation,
		RepoID:     ev.RepoID,
		Badge:      ev.Badge,
	}
	for _, k := range ev.Keys {
		msg.Keys = append(msg.Keys, k.String())
	}
	if ev.Counts != nil {
		msg.Counts = make(map[string]int, len(ev.Counts))
		for s, n := range ev.Counts {
			msg.Counts[s.String()] = n
		}
	}
	return msg
}

// handleEvents streams engine events to a websocket client. The first
// message describes the current view.
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := s.engine.Subscribe(64)
	defer unsubscribe()

	// Client messages are ignored; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	logger.Debug("Event client connected")

	v := s.engine.View()
	hello := engine.Event{Kind: engine.SectionsRecomputed, Generation: v.Generation, Badge: v.Badge, Counts: v.Counts}
	if err := writeEvent(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Event client disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				logger.WithError(err).Debug("Failed to send event")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev engine.Event) error {
	data, err := json.Marshal(toEventMessage(ev))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
