// Package domain contains core domain types for the Vectr incident service.
package domain

import (
	"math"
	"strconv"
)

// RoomPrefix is prepended to an incident ID to name its voice channel.
const RoomPrefix = "incident-"

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether both components are zero, which callers treat as "not provided".
func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// String formats the pair as "lat,lng", the form map providers expect.
func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// Incident is one emergency response event. It is immutable after creation.
type Incident struct {
	ID          string      `json:"incident_id"`
	Address     string      `json:"address"`
	Coordinates Coordinates `json:"coordinates"`
	CallerNotes string      `json:"caller_notes"`
}

// RoomName returns the voice channel name for the incident.
func (i Incident) RoomName() string {
	return RoomPrefix + i.ID
}

// EnrichmentBundle is the output of one pipeline run. Every text field holds either
// real content or a documented fallback string.
type EnrichmentBundle struct {
	SceneAnalysis         string                 `json:"scene_analysis"`
	PositioningGuidance   string                 `json:"positioning_guidance"`
	StructuredPositioning *StructuredPositioning `json:"structured_positioning,omitempty"`
	EMSReport             string                 `json:"ems_report"`
	CompressedScene       string                 `json:"compressed_scene"`
	CompressedPositioning string                 `json:"compressed_positioning"`
}

// POIType tags a point of interest found during positioning analysis.
type POIType string

const (
	POIEntrance POIType = "entrance"
	POIParking  POIType = "parking"
	POIHazard   POIType = "hazard"
	POIApproach POIType = "approach"
)

// Valid reports whether t is one of the known POI types.
func (t POIType) Valid() bool {
	switch t {
	case POIEntrance, POIParking, POIHazard, POIApproach:
		return true
	}
	return false
}

// PointOfInterest is a located feature. Priority 1 is highest.
type PointOfInterest struct {
	Type        POIType `json:"type"`
	Description string  `json:"description"`
	Heading     int     `json:"heading"`
	Priority    int     `json:"priority"`
}

// StructuredPositioning is the machine-readable positioning extraction used by map overlays.
// Headings of 0 mean "unknown" unless corroborated.
type StructuredPositioning struct {
	POIs               []PointOfInterest `json:"pois"`
	RecommendedHeading int               `json:"recommended_heading"`
	ApproachHeading    int               `json:"approach_heading"`
	RawGuidance        string            `json:"raw_guidance"`
}

// UnavailablePositioning returns the degraded extraction: no POIs, headings 0, and a reason.
func UnavailablePositioning(reason string) StructuredPositioning {
	return StructuredPositioning{
		POIs:        []PointOfInterest{},
		RawGuidance: "Analysis unavailable: " + reason,
	}
}

// NormalizeHeading maps any compass bearing into [0,360), rounding fractional degrees.
func NormalizeHeading(deg float64) int {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	h := int(math.Round(math.Mod(deg, 360)))
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h -= 360
	}
	return h
}
