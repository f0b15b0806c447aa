package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/imagery"
	"github.com/usman-khan12/Vectr/internal/llm"
	"github.com/usman-khan12/Vectr/internal/shared"
)

// GenerateStructuredPositioning asks the model for the JSON positioning schema and
// parses it. It never fails: a model error or an unusable reply yields
// domain.UnavailablePositioning with the reason.
func (a *PositioningAnalyzer) GenerateStructuredPositioning(ctx context.Context, address string, _ domain.Coordinates, img imagery.Image) domain.StructuredPositioning {
	raw, err := generateText(ctx, a.gen, llm.Request{
		Prompt: fmt.Sprintf(promptStructuredPositioning, address),
		Images: []llm.Image{toLLMImage(img, "image/jpeg")},
	})
	if err != nil {
		a.log.Warn("Structured positioning request failed", "address", address, "error", err)
		return domain.UnavailablePositioning(err.Error())
	}

	sp, err := ParseStructuredPositioning(raw)
	if err != nil {
		a.log.Warn("Structured positioning reply rejected", "address", address, "error", err, "raw", shared.Ellipsize(raw, 200))
		return domain.UnavailablePositioning(err.Error())
	}

	a.log.Info("Structured positioning complete", "address", address, "pois", len(sp.POIs))
	return sp
}

type wirePOI struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Heading     *float64 `json:"heading"`
	Priority    *float64 `json:"priority"`
}

type wirePositioning struct {
	POIs               []wirePOI `json:"pois"`
	RecommendedHeading *float64  `json:"recommended_heading"`
	ApproachHeading    *float64  `json:"approach_heading"`
	RawGuidance        string    `json:"raw_guidance"`
}

// ParseStructuredPositioning decodes a model reply in the structured positioning
// schema. A surrounding code fence is stripped first. Missing top-level headings
// default to 0; every POI must carry a known type, a heading, and a priority in
// 1..5. Failures are returned as *domain.ExtractionError.
func ParseStructuredPositioning(raw string) (domain.StructuredPositioning, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return domain.StructuredPositioning{}, &domain.ExtractionError{Err: errors.New("empty reply")}
	}
	if body[0] != '{' {
		return domain.StructuredPositioning{}, &domain.ExtractionError{Err: errors.New("reply is not a JSON object")}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	var w wirePositioning
	if err := dec.Decode(&w); err != nil {
		return domain.StructuredPositioning{}, &domain.ExtractionError{Err: fmt.Errorf("decode: %w", err)}
	}
	if dec.More() {
		return domain.StructuredPositioning{}, &domain.ExtractionError{Err: errors.New("trailing content after JSON object")}
	}

	sp := domain.StructuredPositioning{
		POIs:        make([]domain.PointOfInterest, 0, len(w.POIs)),
		RawGuidance: w.RawGuidance,
	}
	if w.RecommendedHeading != nil {
		sp.RecommendedHeading = domain.NormalizeHeading(*w.RecommendedHeading)
	}
	if w.ApproachHeading != nil {
		sp.ApproachHeading = domain.NormalizeHeading(*w.ApproachHeading)
	}

	for i, p := range w.POIs {
		poi, err := validatePOI(p)
		if err != nil {
			return domain.StructuredPositioning{}, &domain.ExtractionError{Err: fmt.Errorf("poi %d: %w", i, err)}
		}
		sp.POIs = append(sp.POIs, poi)
	}
	return sp, nil
}

func validatePOI(p wirePOI) (domain.PointOfInterest, error) {
	typ := domain.POIType(strings.ToLower(strings.TrimSpace(p.Type)))
	if !typ.Valid() {
		return domain.PointOfInterest{}, fmt.Errorf("unknown type %q", p.Type)
	}
	if p.Heading == nil {
		return domain.PointOfInterest{}, errors.New("missing heading")
	}
	if p.Priority == nil {
		return domain.PointOfInterest{}, errors.New("missing priority")
	}
	prio := *p.Priority
	if prio != math.Trunc(prio) || prio < 1 || prio > 5 {
		return domain.PointOfInterest{}, fmt.Errorf("priority %v outside 1..5", prio)
	}
	return domain.PointOfInterest{
		Type:        typ,
		Description: strings.TrimSpace(p.Description),
		Heading:     domain.NormalizeHeading(*p.Heading),
		Priority:    int(prio),
	}, nil
}

// stripCodeFence removes a markdown code fence the model may wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line, including any language tag.
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
			if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
				s = s[4:]
			}
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
