package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeHeading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{45, 45},
		{359, 359},
		{360, 0},
		{725, 5},
		{-90, 270},
		{-360, 0},
		{359.6, 0},
		{44.4, 44},
	}
	for _, tt := range tests {
		if got := NormalizeHeading(tt.in); got != tt.want {
			t.Errorf("NormalizeHeading(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseDispatcherEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		want    DispatcherEvent
		wantErr bool
	}{
		{
			name: "briefing",
			data: `{"type":"tactical_briefing","briefing":"Engine 4 on scene"}`,
			want: DispatcherEvent{Kind: EventTacticalBriefing, Payload: "Engine 4 on scene"},
		},
		{
			name: "briefing without text",
			data: `{"type":"tactical_briefing"}`,
			want: DispatcherEvent{Kind: EventTacticalBriefing},
		},
		{
			name: "scene update",
			data: `{"type":"scene_update","data":{"summary":"Gate code 1234"}}`,
			want: DispatcherEvent{Kind: EventSceneUpdate, Payload: "Gate code 1234"},
		},
		{
			name: "scene update without summary",
			data: `{"type":"scene_update","data":{}}`,
			want: DispatcherEvent{Kind: EventSceneUpdate, Payload: DefaultSceneUpdateSummary},
		},
		{
			name: "scene update without data",
			data: `{"type":"scene_update"}`,
			want: DispatcherEvent{Kind: EventSceneUpdate, Payload: DefaultSceneUpdateSummary},
		},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "missing type", data: `{"briefing":"x"}`, wantErr: true},
		{name: "unknown type", data: `{"type":"reboot"}`, wantErr: true},
		{name: "wrong field type", data: `{"type":"tactical_briefing","briefing":42}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDispatcherEvent([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Fatalf("expected ErrMalformedEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDispatcherEventEncodeIsParseable(t *testing.T) {
	t.Parallel()

	for _, ev := range []DispatcherEvent{
		{Kind: EventTacticalBriefing, Payload: "Stage on Elm"},
		{Kind: EventSceneUpdate, Payload: "Second patient found"},
	} {
		data, err := ev.Encode()
		if err != nil {
			t.Fatalf("Encode(%+v) failed: %v", ev, err)
		}
		got, err := ParseDispatcherEvent(data)
		if err != nil {
			t.Fatalf("ParseDispatcherEvent(%s) failed: %v", data, err)
		}
		if got != ev {
			t.Errorf("got %+v, want %+v", got, ev)
		}
	}

	if _, err := (DispatcherEvent{Kind: "other"}).Encode(); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	cfgErr := fmt.Errorf("fetch: %w", &ConfigurationError{Setting: "GOOGLE_MAPS_API_KEY"})
	if !IsConfiguration(cfgErr) || IsUpstream(cfgErr) {
		t.Errorf("expected configuration error classification for %v", cfgErr)
	}
	if cfgErr.Error() != "fetch: GOOGLE_MAPS_API_KEY is not configured" {
		t.Errorf("unexpected message: %q", cfgErr.Error())
	}

	cause := errors.New("connection refused")
	upErr := &UpstreamError{Provider: "compression", StatusCode: 503, Message: "non-success response", Err: cause}
	if !IsUpstream(upErr) || IsConfiguration(upErr) {
		t.Errorf("expected upstream error classification for %v", upErr)
	}
	if !errors.Is(upErr, cause) {
		t.Error("expected UpstreamError to unwrap to its cause")
	}
	if got, want := upErr.Error(), "compression: non-success response (status 503): connection refused"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestIncidentRoomName(t *testing.T) {
	t.Parallel()

	inc := Incident{ID: "42"}
	if got := inc.RoomName(); got != "incident-42" {
		t.Errorf("RoomName() = %q", got)
	}
	if got := (Coordinates{Lat: 37.7749, Lng: -122.4194}).String(); got != "37.7749,-122.4194" {
		t.Errorf("Coordinates.String() = %q", got)
	}
}

func TestSessionStateString(t *testing.T) {
	t.Parallel()

	if StateListening.String() != "listening" || SessionState(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
