// Package agent runs the tactical voice session for each incident room: the
// initial briefing, dispatcher event reactions, on-demand tools, and the feeds
// that observe what the agent says.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/usman-khan12/Vectr/internal/channel"
	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/pipeline"
)

// Tool names the voice agent can invoke from the channel.
const (
	ToolSceneAnalysis       = "get_scene_analysis"
	ToolPositioningGuidance = "get_positioning_guidance"
)

// StandbyMessage is spoken when a session starts without incident details.
const StandbyMessage = "VECTR online. Standing by for incident details."

const defaultTaskTimeout = 60 * time.Second

// Tools are the direct enrichment calls behind the agent's tools. They bypass
// the pipeline.
type Tools struct {
	Images      pipeline.ImageSource
	Scene       pipeline.Analyzer
	Positioning pipeline.Analyzer
}

// Session is a point-in-time view of a controller.
type Session struct {
	Room        string                   `json:"room"`
	State       string                   `json:"state"`
	Incident    domain.Incident          `json:"incident"`
	Bundle      *domain.EnrichmentBundle `json:"bundle,omitempty"`
	ChannelOpen bool                     `json:"channel_open"`
	InFlight    int64                    `json:"in_flight"`
}

// Controller owns one live voice session for one incident room.
type Controller struct {
	room        *channel.Room
	tools       Tools
	voice       Voice
	taskTimeout time.Duration
	log         *slog.Logger

	mu       sync.RWMutex
	state    domain.SessionState
	incident domain.Incident
	bundle   *domain.EnrichmentBundle

	inFlight atomic.Int64

	joinOnce    sync.Once
	unsubscribe func()
}

// NewController creates an idle controller for room. voice may be nil, in which
// case instructions' payloads are spoken verbatim.
func NewController(room *channel.Room, tools Tools, voice Voice, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		room:        room,
		tools:       tools,
		voice:       voice,
		taskTimeout: defaultTaskTimeout,
		log:         log.With("room", room.Name()),
		state:       domain.StateIdle,
	}
}

// Join loads the incident from the room metadata and subscribes to the room's
// packets. It is idempotent; Run calls it if the caller has not.
func (c *Controller) Join() {
	c.joinOnce.Do(func() {
		c.setState(domain.StateJoining)

		meta, err := pipeline.ParseMetadata(c.room.Metadata())
		if err != nil {
			c.log.Warn("Could not parse room metadata", "error", err)
		}
		c.mu.Lock()
		c.incident = meta.Incident()
		c.bundle = meta.Bundle()
		c.mu.Unlock()
		if meta.Address != "" {
			c.log.Info("Loaded incident data", "address", meta.Address)
		}

		c.unsubscribe = c.room.Subscribe(c.handlePacket)
	})
}

// Run joins the room, speaks the initial briefing, then listens until the room
// is torn down or ctx is cancelled. There is no self-termination.
func (c *Controller) Run(ctx context.Context) {
	c.Join()
	defer c.unsubscribe()

	c.setState(domain.StateBriefing)
	message := InitialMessage(c.Incident().Address, c.Bundle())
	briefCtx, cancel := context.WithTimeout(ctx, c.taskTimeout)
	c.speak(briefCtx, message, message, "briefing")
	cancel()

	c.setState(domain.StateListening)
	select {
	case <-c.room.Done():
	case <-ctx.Done():
	}
	c.setState(domain.StateClosed)
	c.log.Info("Tactical session closed", "in_flight", c.inFlight.Load())
}

// InitialMessage builds the opening briefing from whatever enrichment is known.
func InitialMessage(address string, b *domain.EnrichmentBundle) string {
	if address == "" {
		return StandbyMessage
	}
	scene, positioning := "Scene analysis loading.", "Positioning data loading."
	if b != nil {
		if s := strings.TrimSpace(b.CompressedScene); s != "" {
			scene = s
		}
		if p := strings.TrimSpace(b.CompressedPositioning); p != "" {
			positioning = p
		}
	}
	return fmt.Sprintf("VECTR online. Incident at %s. %s. %s. Ask me about approach routes, staging, or hazards.",
		address, strings.TrimRight(scene, ". "), strings.TrimRight(positioning, ". "))
}

// State returns the controller's lifecycle state.
func (c *Controller) State() domain.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s domain.SessionState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.log.Debug("Session state changed", "from", prev.String(), "to", s.String())
}

// Incident returns the incident loaded from the room metadata.
func (c *Controller) Incident() domain.Incident {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.incident
}

// Bundle returns the enrichment loaded from the room metadata, if any.
func (c *Controller) Bundle() *domain.EnrichmentBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bundle
}

// Snapshot returns the controller's current session view.
func (c *Controller) Snapshot() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Session{
		Room:        c.room.Name(),
		State:       c.state.String(),
		Incident:    c.incident,
		Bundle:      c.bundle,
		ChannelOpen: c.state != domain.StateClosed && !c.room.Closed(),
		InFlight:    c.inFlight.Load(),
	}
}

// InFlight returns the number of speech tasks not yet finished.
func (c *Controller) InFlight() int64 { return c.inFlight.Load() }

func (c *Controller) handlePacket(p channel.Packet) {
	if c.State() == domain.StateClosed {
		return
	}
	switch p.Kind {
	case channel.PacketData:
		c.OnData(p.Data)
	case channel.PacketTool:
		c.OnTool(p.Tool)
	}
}

// OnData reacts to a dispatcher event. It never blocks on speech: each reaction
// runs as its own task, so overlapping updates may finish in any order.
// Malformed packets are logged and dropped.
func (c *Controller) OnData(data []byte) {
	ev, err := domain.ParseDispatcherEvent(data)
	if err != nil {
		c.log.Warn("Dropping dispatcher packet", "error", err, "bytes", len(data))
		return
	}

	var instructions string
	switch ev.Kind {
	case domain.EventTacticalBriefing:
		if strings.TrimSpace(ev.Payload) == "" {
			c.log.Info("Ignoring empty tactical briefing")
			return
		}
		instructions = "Say this tactical briefing: " + ev.Payload
	case domain.EventSceneUpdate:
		instructions = "Announce this update from dispatch: " + ev.Payload
	}

	c.dispatch(string(ev.Kind), func(ctx context.Context) {
		c.speak(ctx, instructions, ev.Payload, string(ev.Kind))
	})
}

// OnTool runs a tool requested from the channel and speaks its result.
func (c *Controller) OnTool(name string) {
	var run func(context.Context) string
	switch name {
	case ToolSceneAnalysis:
		run = c.SceneAnalysis
	case ToolPositioningGuidance:
		run = c.PositioningGuidance
	default:
		c.log.Warn("Unknown tool requested", "tool", name)
		return
	}
	c.dispatch(name, func(ctx context.Context) {
		result := run(ctx)
		c.speak(ctx, "Relay this to the crew: "+result, result, name)
	})
}

// SceneAnalysis analyzes the satellite view of the incident. Failures come back
// as a spoken-safe string.
func (c *Controller) SceneAnalysis(ctx context.Context) string {
	inc := c.Incident()
	c.log.Info("Fetching scene analysis", "address", inc.Address)
	if c.tools.Images == nil || c.tools.Scene == nil {
		return "Unable to analyze scene: scene analysis is not available"
	}
	if inc.Coordinates.IsZero() {
		return "Unable to analyze scene: no incident location on file"
	}
	img, err := c.tools.Images.SatelliteImage(ctx, inc.Coordinates)
	if err != nil {
		c.log.Error("Scene analysis failed", "error", err)
		return "Unable to analyze scene: " + err.Error()
	}
	text, err := c.tools.Scene.Analyze(ctx, inc.Address, inc.Coordinates, img)
	if err != nil {
		c.log.Error("Scene analysis failed", "error", err)
		return "Unable to analyze scene: " + err.Error()
	}
	return text
}

// PositioningGuidance analyzes the street view of the incident. Failures come
// back as a spoken-safe string.
func (c *Controller) PositioningGuidance(ctx context.Context) string {
	inc := c.Incident()
	c.log.Info("Fetching positioning guidance", "address", inc.Address)
	if c.tools.Images == nil || c.tools.Positioning == nil {
		return "Street view unavailable: positioning guidance is not available"
	}
	if inc.Coordinates.IsZero() {
		return "Street view unavailable: no incident location on file"
	}
	img, err := c.tools.Images.StreetViewImage(ctx, inc.Coordinates)
	if err != nil {
		c.log.Error("Positioning guidance failed", "error", err)
		return "Street view unavailable: " + err.Error()
	}
	text, err := c.tools.Positioning.Analyze(ctx, inc.Address, inc.Coordinates, img)
	if err != nil {
		c.log.Error("Positioning guidance failed", "error", err)
		return "Street view unavailable: " + err.Error()
	}
	return text
}

// dispatch runs fn on its own goroutine and returns immediately. Tasks are not
// cancelled on teardown; a task that outlives its room fails to speak and exits.
func (c *Controller) dispatch(kind string, fn func(ctx context.Context)) {
	c.inFlight.Add(1)
	go func() {
		defer c.inFlight.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				c.log.Error("Speech task panicked", "kind", kind, "panic", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), c.taskTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// speak turns instructions into an utterance and queues it in the room. When
// the voice cannot compose a reply, fallback is spoken as-is.
func (c *Controller) speak(ctx context.Context, instructions, fallback, source string) {
	text := fallback
	if c.voice != nil {
		out, err := c.voice.Compose(ctx, c.Incident().Address, instructions)
		if err != nil {
			c.log.Warn("Speech generation failed, speaking raw instructions", "source", source, "error", err)
		} else {
			text = out
		}
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := c.room.Speak(ctx, channel.Utterance{ID: uuid.NewString(), Text: text, Source: source}); err != nil {
		c.log.Warn("Utterance dropped", "source", source, "error", err)
	}
}
