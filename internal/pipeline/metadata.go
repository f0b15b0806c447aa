package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/shared"
)

// RoomMetadata is the size-bounded blob attached to an incident's voice channel.
// The session controller reads it when it joins.
type RoomMetadata struct {
	IncidentID          string  `json:"incident_id"`
	Address             string  `json:"address"`
	Lat                 float64 `json:"lat"`
	Lng                 float64 `json:"lng"`
	CallerNotes         string  `json:"caller_notes"`
	SceneAnalysis       string  `json:"scene_analysis,omitempty"`
	PositioningGuidance string  `json:"positioning_guidance,omitempty"`
	EMSReport           string  `json:"ems_report,omitempty"`
}

// BuildMetadata packs the incident and the compressed enrichment, each text field
// cut to limit characters.
func BuildMetadata(inc domain.Incident, b domain.EnrichmentBundle, limit int) RoomMetadata {
	return RoomMetadata{
		IncidentID:          inc.ID,
		Address:             shared.Truncate(inc.Address, limit),
		Lat:                 inc.Coordinates.Lat,
		Lng:                 inc.Coordinates.Lng,
		CallerNotes:         shared.Truncate(inc.CallerNotes, limit),
		SceneAnalysis:       shared.Truncate(b.CompressedScene, limit),
		PositioningGuidance: shared.Truncate(b.CompressedPositioning, limit),
		EMSReport:           shared.Truncate(b.EMSReport, limit),
	}
}

// Encode renders the metadata as JSON.
func (m RoomMetadata) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode room metadata: %w", err)
	}
	return data, nil
}

// ParseMetadata decodes a metadata blob. An empty blob is not an error and yields
// zero metadata.
func ParseMetadata(data []byte) (RoomMetadata, error) {
	var m RoomMetadata
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return RoomMetadata{}, fmt.Errorf("decode room metadata: %w", err)
	}
	return m, nil
}

// Incident returns the incident the metadata describes.
func (m RoomMetadata) Incident() domain.Incident {
	return domain.Incident{
		ID:          m.IncidentID,
		Address:     m.Address,
		Coordinates: domain.Coordinates{Lat: m.Lat, Lng: m.Lng},
		CallerNotes: m.CallerNotes,
	}
}

// Bundle returns the partial enrichment carried in the metadata, or nil when the
// metadata holds no enrichment.
func (m RoomMetadata) Bundle() *domain.EnrichmentBundle {
	if m.SceneAnalysis == "" && m.PositioningGuidance == "" && m.EMSReport == "" {
		return nil
	}
	return &domain.EnrichmentBundle{
		SceneAnalysis:         m.SceneAnalysis,
		PositioningGuidance:   m.PositioningGuidance,
		EMSReport:             m.EMSReport,
		CompressedScene:       m.SceneAnalysis,
		CompressedPositioning: m.PositioningGuidance,
	}
}
