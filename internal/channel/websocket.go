package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/usman-khan12/Vectr/internal/identity"
)

// WebSocketHandler connects participants to rooms over websocket.
type WebSocketHandler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. It expects the request
// context to carry an identity.Grant and the route to define a {room} parameter.
func NewWebSocketHandler(hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev}
}

// wsMessage is an inbound client frame.
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Name    string          `json:"name,omitempty"`
}

type joinedFrame struct {
	Type         string          `json:"type"`
	Room         string          `json:"room"`
	Identity     string          `json:"identity"`
	Participants int             `json:"participants"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")
	grant, ok := identity.GrantFromContext(r.Context())
	if !ok || grant.Room != roomName {
		http.Error(w, `{"error":"token not valid for this room"}`, http.StatusForbidden)
		return
	}
	slog.Info("WebSocket connection request", "room", roomName, "identity", grant.Identity, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	room, err := h.hub.Get(roomName)
	if err != nil {
		http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "room", roomName)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "room", roomName)
		}
	}()

	p := NewParticipant(grant.Identity, grant.Name, ws)
	if err := room.Join(p); err != nil {
		_ = writeJSON(r.Context(), ws, map[string]string{"type": "error", "error": "room_closed"})
		return
	}
	defer room.Leave(p)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-room.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	meta := room.Metadata()
	joined := joinedFrame{Type: "joined", Room: roomName, Identity: grant.Identity, Participants: room.ParticipantCount()}
	if len(meta) > 0 && json.Valid(meta) {
		joined.Metadata = meta
	}
	if err := writeJSON(ctx, ws, joined); err != nil {
		slog.Debug("Failed to send joined frame", "error", err)
		return
	}

	h.inputLoop(ctx, ws, room, grant)
	slog.Info("Participant session ended", "room", roomName, "identity", grant.Identity)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, room *Room, grant identity.Grant) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				slog.Debug("WebSocket closed by client", "room", room.Name(), "identity", grant.Identity)
			case ctx.Err() != nil:
				slog.Debug("WebSocket read stopped", "room", room.Name(), "reason", ctx.Err())
			default:
				slog.Warn("WebSocket read error", "error", err, "room", room.Name())
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Dropping malformed frame", "room", room.Name(), "error", err)
			continue
		}

		switch msg.Type {
		case "data":
			if len(msg.Payload) == 0 {
				continue
			}
			h.publish(ctx, ws, room, Packet{Kind: PacketData, From: grant.Identity, Data: msg.Payload})
		case "tool":
			h.publish(ctx, ws, room, Packet{Kind: PacketTool, From: grant.Identity, Tool: msg.Name})
		case "ping":
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "leave":
			return
		default:
			slog.Debug("Ignoring unknown frame type", "room", room.Name(), "type", msg.Type)
		}
	}
}

func (h *WebSocketHandler) publish(ctx context.Context, ws *websocket.Conn, room *Room, p Packet) {
	if err := room.Publish(ctx, p); err != nil {
		if errors.Is(err, ErrRoomClosed) {
			_ = writeJSON(ctx, ws, map[string]string{"type": "error", "error": "room_closed"})
			return
		}
		slog.Warn("Failed to publish packet", "room", room.Name(), "error", err)
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
