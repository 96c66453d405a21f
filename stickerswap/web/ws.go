package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/swapdesk/stickerswap/stickerswap/events"
)

const wsWriteTimeout = 10 * time.Second

// streamFrame is one WebSocket message: either the initial snapshot or a
// pushed change event. Clients feed both into the same reducer.
type streamFrame struct {
	Type     string              `json:"type"`
	Snapshot *events.SessionView `json:"snapshot,omitempty"`
	Event    *events.ChangeEvent `json:"event,omitempty"`
}

// handleSessionStream upgrades to WebSocket, sends the authoritative snapshot
// first and then streams change events until the client disconnects. Push is
// best-effort; the client reconciles through the snapshot endpoint.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	sessionID := r.PathValue("id")

	// Authorize before upgrading so a non-participant gets a proper HTTP
	// status instead of a dropped socket.
	view, err := s.engine.SessionDetails(r.Context(), sessionID, party)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket accept failed",
			slog.String("type", "http"),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	sub, err := s.engine.Hub().Subscribe(ctx, sessionID)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Cancel()

	if err := s.writeFrame(ctx, conn, streamFrame{Type: "snapshot", Snapshot: view}); err != nil {
		return
	}

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := s.writeFrame(ctx, conn, streamFrame{Type: "event", Event: &ev}); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame streamFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, frame); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Debug("WebSocket write failed",
				slog.String("type", "http"),
				slog.String("error", err.Error()))
		}
		return err
	}
	return nil
}
