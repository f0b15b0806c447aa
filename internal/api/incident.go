package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/usman-khan12/Vectr/internal/agent"
	"github.com/usman-khan12/Vectr/internal/channel"
	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/identity"
	"github.com/usman-khan12/Vectr/internal/imagery"
	"github.com/usman-khan12/Vectr/internal/pipeline"
)

var incidentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Enricher runs the intelligence pipeline.
type Enricher interface {
	Enrich(ctx context.Context, inc domain.Incident) domain.EnrichmentBundle
}

// Geocoder resolves addresses and coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (imagery.Place, error)
	ReverseGeocode(ctx context.Context, c domain.Coordinates) (string, error)
}

// RoomHub opens and finds voice channel rooms.
type RoomHub interface {
	Create(name string, metadata []byte) (*channel.Room, bool, error)
	Get(name string) (*channel.Room, error)
}

// SessionLookup finds the live session for a room.
type SessionLookup interface {
	Session(room string) (*agent.Controller, bool)
}

// Limiter throttles per key.
type Limiter interface {
	Allow(key string) bool
}

// IncidentDeps are the collaborators of IncidentHandler. Geocoder, Sessions and
// Limiter are optional.
type IncidentDeps struct {
	Enricher         Enricher
	Geocoder         Geocoder
	Rooms            RoomHub
	Tokens           *identity.Registry
	Sessions         SessionLookup
	Limiter          Limiter
	SideChannelLimit int
	MaxBodySize      int64
}

// IncidentHandler handles incident creation and dispatcher events.
type IncidentHandler struct {
	deps IncidentDeps
}

// NewIncidentHandler creates an incident handler.
func NewIncidentHandler(deps IncidentDeps) *IncidentHandler {
	if deps.SideChannelLimit <= 0 {
		deps.SideChannelLimit = 1000
	}
	return &IncidentHandler{deps: deps}
}

// RegisterRoutes registers incident routes.
func (h *IncidentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/incident/create", h.Create)
	r.Post("/incident/briefing", h.Briefing)
	r.Post("/incident/update", h.Update)
	r.Get("/incident/{room}", h.Status)
}

// CreateIncidentRequest is the body of POST /incident/create.
type CreateIncidentRequest struct {
	IncidentID  string  `json:"incident_id"`
	Address     string  `json:"address"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	CallerNotes string  `json:"caller_notes"`
}

// CreateIncidentResponse is returned by POST /incident/create.
type CreateIncidentResponse struct {
	RoomName              string                        `json:"room_name"`
	TokenDispatcher       string                        `json:"token_dispatcher"`
	TokenEMT              string                        `json:"token_emt"`
	SceneAnalysis         string                        `json:"scene_analysis"`
	PositioningGuidance   string                        `json:"positioning_guidance"`
	EMSReport             string                        `json:"ems_report"`
	StructuredPositioning *domain.StructuredPositioning `json:"structured_positioning,omitempty"`
}

// Create enriches the incident, opens its room with the size-bounded metadata,
// and issues the dispatcher and crew tokens. The agent joins automatically.
func (h *IncidentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if !decodeJSON(w, r, h.deps.MaxBodySize, &req) {
		return
	}

	req.IncidentID = strings.TrimSpace(req.IncidentID)
	if req.IncidentID == "" {
		req.IncidentID = uuid.NewString()
	}
	if !incidentIDPattern.MatchString(req.IncidentID) {
		Error(w, http.StatusBadRequest, "incident_id may only contain letters, digits, '-' and '_'")
		return
	}
	coords := domain.Coordinates{Lat: req.Lat, Lng: req.Lng}
	if !validCoordinates(coords) {
		Error(w, http.StatusBadRequest, "lat/lng out of range")
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" && coords.IsZero() {
		Error(w, http.StatusBadRequest, "address or coordinates are required")
		return
	}

	inc := domain.Incident{
		ID:          req.IncidentID,
		Address:     req.Address,
		Coordinates: coords,
		CallerNotes: req.CallerNotes,
	}
	inc = h.resolveLocation(r.Context(), inc)

	log := slog.With("incident_id", inc.ID, "room", inc.RoomName())
	log.Info("Creating incident", "address", inc.Address, "has_coordinates", !inc.Coordinates.IsZero())

	bundle := h.deps.Enricher.Enrich(r.Context(), inc)

	metadata, err := pipeline.BuildMetadata(inc, bundle, h.deps.SideChannelLimit).Encode()
	if err != nil {
		providerError(w, r, "incident.create", err)
		return
	}
	_, created, err := h.deps.Rooms.Create(inc.RoomName(), metadata)
	if err != nil {
		providerError(w, r, "incident.create", err)
		return
	}
	if !created {
		log.Warn("Room already existed, metadata replaced")
	}

	dispatcher := h.deps.Tokens.Issue(inc.RoomName(), identity.DispatcherIdentity, identity.DispatcherName)
	crew := h.deps.Tokens.Issue(inc.RoomName(), identity.CrewIdentity, identity.CrewName)

	JSON(w, http.StatusOK, CreateIncidentResponse{
		RoomName:              inc.RoomName(),
		TokenDispatcher:       dispatcher.Token,
		TokenEMT:              crew.Token,
		SceneAnalysis:         bundle.SceneAnalysis,
		PositioningGuidance:   bundle.PositioningGuidance,
		EMSReport:             bundle.EMSReport,
		StructuredPositioning: bundle.StructuredPositioning,
	})
}

// resolveLocation fills in whichever of address and coordinates is missing.
// Lookup failures leave the incident as given; the pipeline degrades instead.
func (h *IncidentHandler) resolveLocation(ctx context.Context, inc domain.Incident) domain.Incident {
	if h.deps.Geocoder == nil {
		return inc
	}
	switch {
	case inc.Coordinates.IsZero() && inc.Address != "":
		place, err := h.deps.Geocoder.Geocode(ctx, inc.Address)
		if err != nil {
			slog.Warn("Geocoding failed, continuing without coordinates", "address", inc.Address, "error", err)
			return inc
		}
		inc.Coordinates = place.Coordinates
	case inc.Address == "":
		addr, err := h.deps.Geocoder.ReverseGeocode(ctx, inc.Coordinates)
		if err != nil {
			slog.Warn("Reverse geocoding failed", "coordinates", inc.Coordinates.String(), "error", err)
			inc.Address = inc.Coordinates.String()
			return inc
		}
		inc.Address = addr
	}
	return inc
}

// BriefingRequest is the body of POST /incident/briefing.
type BriefingRequest struct {
	RoomName     string `json:"room_name"`
	BriefingText string `json:"briefing_text"`
}

// Briefing sends a tactical briefing for the agent to speak.
func (h *IncidentHandler) Briefing(w http.ResponseWriter, r *http.Request) {
	var req BriefingRequest
	if !decodeJSON(w, r, h.deps.MaxBodySize, &req) {
		return
	}
	data, err := domain.DispatcherEvent{Kind: domain.EventTacticalBriefing, Payload: req.BriefingText}.Encode()
	if err != nil {
		providerError(w, r, "incident.briefing", err)
		return
	}
	if h.publish(w, r, "incident.briefing", req.RoomName, data) {
		JSON(w, http.StatusOK, map[string]string{"status": "briefing_sent", "room": req.RoomName})
	}
}

// SceneUpdateRequest is the body of POST /incident/update.
type SceneUpdateRequest struct {
	RoomName string `json:"room_name"`
	Summary  string `json:"summary"`
}

// Update announces new scene information. A blank summary is announced with the
// default wording.
func (h *IncidentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req SceneUpdateRequest
	if !decodeJSON(w, r, h.deps.MaxBodySize, &req) {
		return
	}
	data := []byte(`{"type":"scene_update","data":{}}`)
	if strings.TrimSpace(req.Summary) != "" {
		var err error
		data, err = domain.DispatcherEvent{Kind: domain.EventSceneUpdate, Payload: req.Summary}.Encode()
		if err != nil {
			providerError(w, r, "incident.update", err)
			return
		}
	}
	if h.publish(w, r, "incident.update", req.RoomName, data) {
		JSON(w, http.StatusOK, map[string]string{"status": "update_sent", "room": req.RoomName})
	}
}

func (h *IncidentHandler) publish(w http.ResponseWriter, r *http.Request, op, roomName string, data []byte) bool {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		Error(w, http.StatusBadRequest, "room_name is required")
		return false
	}
	room, err := h.deps.Rooms.Get(roomName)
	if err != nil {
		providerError(w, r, op, err)
		return false
	}
	if h.deps.Limiter != nil && !h.deps.Limiter.Allow(roomName) {
		slog.Warn("Dispatcher event throttled", "room", roomName)
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	err = room.Publish(r.Context(), channel.Packet{
		Kind: channel.PacketData,
		From: identity.DispatcherIdentity,
		Data: data,
	})
	if err != nil {
		if errors.Is(err, channel.ErrRoomClosed) {
			Error(w, http.StatusNotFound, "room closed")
			return false
		}
		providerError(w, r, op, err)
		return false
	}
	slog.Info("Dispatcher event sent", "room", roomName, "op", op)
	return true
}

// Status returns the live session for a room.
func (h *IncidentHandler) Status(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")
	if h.deps.Sessions == nil {
		Error(w, http.StatusNotFound, "no session for room")
		return
	}
	c, ok := h.deps.Sessions.Session(roomName)
	if !ok {
		Error(w, http.StatusNotFound, "no session for room")
		return
	}
	JSON(w, http.StatusOK, c.Snapshot())
}
