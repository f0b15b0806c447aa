package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/usman-khan12/Vectr/internal/identity"
)

func newWSServer(t *testing.T, hub *Hub, reg *identity.Registry) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.With(identity.Middleware(reg)).Get("/ws/incident/{room}", NewWebSocketHandler(hub, "*", false).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, room, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/incident/" + room + "?token=" + token
}

func readFrame(t *testing.T, ctx context.Context, c *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestWebSocketJoinAndPublish(t *testing.T) {
	t.Parallel()

	hub := NewHub(0, testLogger())
	defer hub.CloseAll("test done")
	reg := identity.NewRegistry()
	room, _, _ := hub.Create("incident-5", []byte(`{"address":"1 Main St"}`))

	packets := make(chan Packet, 4)
	room.Subscribe(func(p Packet) { packets <- p })

	srv := newWSServer(t, hub, reg)
	grant := reg.Issue("incident-5", identity.DispatcherIdentity, identity.DispatcherName)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(srv, "incident-5", grant.Token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	joined := readFrame(t, ctx, c)
	if joined["type"] != "joined" || joined["identity"] != identity.DispatcherIdentity {
		t.Fatalf("joined frame = %v", joined)
	}
	meta, _ := joined["metadata"].(map[string]any)
	if meta["address"] != "1 Main St" {
		t.Errorf("metadata = %v", joined["metadata"])
	}

	_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`))
	if pong := readFrame(t, ctx, c); pong["type"] != "pong" {
		t.Errorf("ping reply = %v", pong)
	}

	_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"data","payload":{"type":"scene_update","briefing":"x"}}`))
	select {
	case p := <-packets:
		if p.Kind != PacketData || p.From != identity.DispatcherIdentity || !strings.Contains(string(p.Data), "scene_update") {
			t.Errorf("packet = %+v", p)
		}
	case <-ctx.Done():
		t.Fatal("data packet not delivered")
	}

	_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"tool","name":"get_scene_analysis"}`))
	select {
	case p := <-packets:
		if p.Kind != PacketTool || p.Tool != "get_scene_analysis" {
			t.Errorf("tool packet = %+v", p)
		}
	case <-ctx.Done():
		t.Fatal("tool packet not delivered")
	}

	waitFor(t, 2*time.Second, func() bool { return room.ParticipantCount() == 1 })
	_ = hub.Close("incident-5", "incident resolved")
	for {
		f := readFrame(t, ctx, c)
		if f["type"] == "closed" {
			if f["reason"] != "incident resolved" {
				t.Errorf("closed reason = %v", f["reason"])
			}
			break
		}
	}
}

func TestWebSocketRejections(t *testing.T) {
	t.Parallel()

	hub := NewHub(0, testLogger())
	defer hub.CloseAll("test done")
	reg := identity.NewRegistry()
	hub.Create("incident-a", nil)
	srv := newWSServer(t, hub, reg)

	wrongRoom := reg.Issue("incident-b", identity.CrewIdentity, identity.CrewName)
	noRoom := reg.Issue("incident-gone", identity.CrewIdentity, identity.CrewName)

	tests := []struct {
		name  string
		room  string
		token string
		want  int
	}{
		{"missing token", "incident-a", "", http.StatusUnauthorized},
		{"unknown token", "incident-a", "bogus", http.StatusUnauthorized},
		{"token for another room", "incident-a", wrongRoom.Token, http.StatusForbidden},
		{"room not open", "incident-gone", noRoom.Token, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, resp, err := websocket.Dial(ctx, wsURL(srv, tt.room, tt.token), nil)
			if err == nil {
				t.Fatal("dial succeeded")
			}
			if resp == nil || resp.StatusCode != tt.want {
				code := 0
				if resp != nil {
					code = resp.StatusCode
				}
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed string
		isDev   bool
		origin  string
		want    bool
	}{
		{"dev allows all", "https://app.example", true, "https://evil.example", true},
		{"wildcard", "*", false, "https://any.example", true},
		{"exact match", "https://app.example", false, "https://app.example", true},
		{"no origin header", "https://app.example", false, "", true},
		{"mismatch", "https://app.example", false, "https://evil.example", false},
	}
	for _, tt := range tests {
		h := NewWebSocketHandler(nil, tt.allowed, tt.isDev)
		req := httptest.NewRequest(http.MethodGet, "/ws/incident/x", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(req); got != tt.want {
			t.Errorf("%s: checkOrigin = %v, want %v", tt.name, got, tt.want)
		}
	}
}
