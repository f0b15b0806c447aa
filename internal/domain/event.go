package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind identifies a dispatcher event.
type EventKind string

const (
	EventTacticalBriefing EventKind = "tactical_briefing"
	EventSceneUpdate      EventKind = "scene_update"
)

// DefaultSceneUpdateSummary is announced when a scene_update carries no summary.
const DefaultSceneUpdateSummary = "New scene information available."

// DispatcherEvent is an out-of-band message pushed into an open voice channel.
// It is consumed once by the session that receives it and never persisted.
type DispatcherEvent struct {
	Kind    EventKind
	Payload string
}

// ErrMalformedEvent is returned for data packets that are not dispatcher events.
var ErrMalformedEvent = errors.New("malformed dispatcher event")

type wireEvent struct {
	Type     EventKind        `json:"type"`
	Briefing *string          `json:"briefing,omitempty"`
	Data     *sceneUpdateData `json:"data,omitempty"`
}

type sceneUpdateData struct {
	Summary *string `json:"summary,omitempty"`
}

// ParseDispatcherEvent decodes a data packet. A tactical_briefing without a briefing
// yields an empty payload; a scene_update without a summary yields the default summary.
func ParseDispatcherEvent(data []byte) (DispatcherEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return DispatcherEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch w.Type {
	case EventTacticalBriefing:
		ev := DispatcherEvent{Kind: EventTacticalBriefing}
		if w.Briefing != nil {
			ev.Payload = *w.Briefing
		}
		return ev, nil
	case EventSceneUpdate:
		ev := DispatcherEvent{Kind: EventSceneUpdate, Payload: DefaultSceneUpdateSummary}
		if w.Data != nil && w.Data.Summary != nil {
			ev.Payload = *w.Data.Summary
		}
		return ev, nil
	case "":
		return DispatcherEvent{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return DispatcherEvent{}, fmt.Errorf("%w: unsupported type %q", ErrMalformedEvent, w.Type)
	}
}

// Encode renders the event in its data packet form.
func (e DispatcherEvent) Encode() ([]byte, error) {
	w := wireEvent{Type: e.Kind}
	switch e.Kind {
	case EventTacticalBriefing:
		w.Briefing = &e.Payload
	case EventSceneUpdate:
		w.Data = &sceneUpdateData{Summary: &e.Payload}
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedEvent, e.Kind)
	}
	return json.Marshal(w)
}
