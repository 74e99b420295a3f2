package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vbonduro/schema2tf/internal/display"
	"github.com/vbonduro/schema2tf/internal/session"
)

// handleLive serves a websocket for one session. The stored results are sent
// on connect, followed by a done frame; after that each client message runs
// one action and ends with done or error.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.sessions.Get(id)
	if errors.Is(err, session.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "failed to get session", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer closeWithLog(conn, "websocket", s.logger)

	log := s.logger.With("session_id", id)
	sink := display.NewWSSink(conn)
	s.pipeline.Render(st, sink)
	sink.Done(display.Reports(st.Reports))

	ctx := context.WithoutCancel(r.Context())
	for sink.Err() == nil {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket closed", "error", err)
			}
			return
		}

		sink.Reset()
		var req actionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			sink.Fail("Invalid message.")
			continue
		}
		if err := s.runAction(ctx, id, req, sink); errors.Is(err, session.ErrNotFound) {
			sink.Fail(userMessage(err))
			return
		}
	}
	log.Warn("websocket write failed", "error", sink.Err())
}
