package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/usman-khan12/Vectr/internal/compress"
	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/pipeline"
	"github.com/usman-khan12/Vectr/internal/transcribe"
)

const defaultAggressiveness = 0.5

// Demo intake output, served only when the fallback is enabled and the
// transcription or report provider fails.
const (
	demoTranscription = "Caller reports structure fire at 123 Oak Street, two-story residence, " +
		"smoke visible from second floor, occupants reported evacuated."
	demoCompressed = "Structure fire at single-family two-story home, smoke from second floor, " +
		"no occupants inside per caller, crews responding code 3."
	demoReport = "- Chief complaint: Residential structure fire, smoke from second floor\n" +
		"- Patients: None reported on scene, occupants evacuated\n" +
		"- Scene safety: Active fire, smoke, potential structural compromise\n" +
		"- Mechanism: Unknown ignition source, interior fire spread\n" +
		"- Dispatch: 123 Oak Street, single-family home, crews responding code 3"
)

// CallReporter writes a report from compressed call text.
type CallReporter interface {
	SynthesizeFromCall(ctx context.Context, compressedCallText string) (string, error)
}

// EMSDeps are the collaborators of EMSHandler.
type EMSDeps struct {
	Compressor   pipeline.Compressor
	Reporter     CallReporter
	Transcriber  transcribe.Transcriber
	Images       pipeline.ImageSource
	Scene        pipeline.Analyzer
	Structured   pipeline.StructuredExtractor
	Geocoder     Geocoder
	DemoFallback bool
	MaxBodySize  int64
}

// EMSHandler handles the report, intake, and scene analysis endpoints.
type EMSHandler struct {
	deps EMSDeps
}

// NewEMSHandler creates an EMS handler.
func NewEMSHandler(deps EMSDeps) *EMSHandler {
	return &EMSHandler{deps: deps}
}

// RegisterRoutes registers EMS routes.
func (h *EMSHandler) RegisterRoutes(r chi.Router) {
	r.Route("/ems", func(r chi.Router) {
		r.Post("/report", h.Report)
		r.Post("/intake", h.Intake)
		r.Post("/scene-analysis", h.SceneAnalysis)
		r.Get("/geocode", h.Geocode)
	})
}

// aggressivenessOrDefault validates an optional aggressiveness before any
// provider is called.
func aggressivenessOrDefault(a *float64) (float64, bool) {
	if a == nil {
		return defaultAggressiveness, true
	}
	return *a, compress.ValidAggressiveness(*a)
}

// EMSRequest is the body of POST /ems/report.
type EMSRequest struct {
	CallText       string   `json:"call_text"`
	Aggressiveness *float64 `json:"aggressiveness"`
}

// EMSReportResponse is returned by POST /ems/report.
type EMSReportResponse struct {
	CompressedText string `json:"compressed_text"`
	AIResponse     string `json:"ai_response"`
}

// Report compresses call text and turns it into a radio-readable report.
func (h *EMSHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req EMSRequest
	if !decodeJSON(w, r, h.deps.MaxBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.CallText) == "" {
		Error(w, http.StatusBadRequest, "call_text is required")
		return
	}
	aggressiveness, ok := aggressivenessOrDefault(req.Aggressiveness)
	if !ok {
		Error(w, http.StatusBadRequest, compress.ErrInvalidAggressiveness.Error())
		return
	}

	compressed, report, err := h.compressAndReport(r.Context(), req.CallText, aggressiveness)
	if err != nil {
		providerError(w, r, "ems.report", err)
		return
	}
	JSON(w, http.StatusOK, EMSReportResponse{CompressedText: compressed, AIResponse: report})
}

func (h *EMSHandler) compressAndReport(ctx context.Context, text string, aggressiveness float64) (string, string, error) {
	compressed, err := h.deps.Compressor.Compress(ctx, text, aggressiveness)
	if err != nil {
		return "", "", err
	}
	report, err := h.deps.Reporter.SynthesizeFromCall(ctx, compressed)
	if err != nil {
		return "", "", err
	}
	return compressed, report, nil
}

// EMSIntakeRequest is the body of POST /ems/intake.
type EMSIntakeRequest struct {
	AudioBase64    string   `json:"audio_base64"`
	Aggressiveness *float64 `json:"aggressiveness"`
}

// EMSIntakeResponse is returned by POST /ems/intake. Demo marks fallback output.
type EMSIntakeResponse struct {
	Transcription  string `json:"transcription"`
	CompressedText string `json:"compressed_text"`
	AIResponse     string `json:"ai_response"`
	Demo           bool   `json:"demo,omitempty"`
}

// Intake transcribes call audio, compresses it, and writes the report. With the
// demo fallback enabled, provider failures return canned output; missing
// credentials and bad input never do.
func (h *EMSHandler) Intake(w http.ResponseWriter, r *http.Request) {
	var req EMSIntakeRequest
	if !decodeJSON(w, r, h.deps.MaxBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.AudioBase64) == "" {
		Error(w, http.StatusBadRequest, "audio_base64 is required")
		return
	}
	aggressiveness, ok := aggressivenessOrDefault(req.Aggressiveness)
	if !ok {
		Error(w, http.StatusBadRequest, compress.ErrInvalidAggressiveness.Error())
		return
	}

	resp, err := h.intake(r.Context(), req.AudioBase64, aggressiveness)
	if err != nil {
		if h.deps.DemoFallback && domain.IsUpstream(err) {
			slog.Warn("Intake failed, serving demo output", "error", err)
			JSON(w, http.StatusOK, EMSIntakeResponse{
				Transcription:  demoTranscription,
				CompressedText: demoCompressed,
				AIResponse:     demoReport,
				Demo:           true,
			})
			return
		}
		providerError(w, r, "ems.intake", err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (h *EMSHandler) intake(ctx context.Context, audio string, aggressiveness float64) (EMSIntakeResponse, error) {
	transcript, err := h.deps.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return EMSIntakeResponse{}, err
	}
	slog.Info("Call transcribed", "backend", h.deps.Transcriber.Name(), "chars", len(transcript))

	compressed, report, err := h.compressAndReport(ctx, transcript, aggressiveness)
	if err != nil {
		return EMSIntakeResponse{}, err
	}
	return EMSIntakeResponse{Transcription: transcript, CompressedText: compressed, AIResponse: report}, nil
}

// SceneAnalysisRequest is the body of POST /ems/scene-analysis.
type SceneAnalysisRequest struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// SceneAnalysisResponse is returned by POST /ems/scene-analysis.
type SceneAnalysisResponse struct {
	Analysis            string                   `json:"analysis"`
	PositioningGuidance string                   `json:"positioning_guidance"`
	POIs                []domain.PointOfInterest `json:"pois"`
	RecommendedHeading  int                      `json:"recommended_heading"`
	ApproachHeading     int                      `json:"approach_heading"`
}

// SceneAnalysis returns the satellite scene analysis and the structured
// positioning overlay. The analysis failing fails the request; the overlay
// degrades instead.
func (h *EMSHandler) SceneAnalysis(w http.ResponseWriter, r *http.Request) {
	var req SceneAnalysisRequest
	if !decodeJSON(w, r, h.deps.MaxBodySize, &req) {
		return
	}
	c := domain.Coordinates{Lat: req.Lat, Lng: req.Lng}
	if c.IsZero() || !validCoordinates(c) {
		Error(w, http.StatusBadRequest, "valid lat and lng are required")
		return
	}

	var analysis string
	var structured domain.StructuredPositioning

	g, gCtx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		img, err := h.deps.Images.SatelliteImage(gCtx, c)
		if err != nil {
			return err
		}
		analysis, err = h.deps.Scene.Analyze(gCtx, req.Address, c, img)
		return err
	})
	g.Go(func() error {
		img, err := h.deps.Images.StreetViewImage(gCtx, c)
		if err != nil {
			structured = domain.UnavailablePositioning(err.Error())
			return nil
		}
		structured = h.deps.Structured.GenerateStructuredPositioning(gCtx, req.Address, c, img)
		return nil
	})
	if err := g.Wait(); err != nil {
		providerError(w, r, "ems.scene_analysis", err)
		return
	}

	pois := structured.POIs
	if pois == nil {
		pois = []domain.PointOfInterest{}
	}
	JSON(w, http.StatusOK, SceneAnalysisResponse{
		Analysis:            analysis,
		PositioningGuidance: structured.RawGuidance,
		POIs:                pois,
		RecommendedHeading:  structured.RecommendedHeading,
		ApproachHeading:     structured.ApproachHeading,
	})
}

// GeocodeResponse is returned by GET /ems/geocode.
type GeocodeResponse struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formatted_address"`
}

// Geocode resolves ?address= for the dispatcher console.
func (h *EMSHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		Error(w, http.StatusBadRequest, "address is required")
		return
	}
	if h.deps.Geocoder == nil {
		Error(w, http.StatusNotImplemented, "geocoding is not available")
		return
	}
	place, err := h.deps.Geocoder.Geocode(r.Context(), address)
	if err != nil {
		providerError(w, r, "ems.geocode", err)
		return
	}
	JSON(w, http.StatusOK, GeocodeResponse{
		Lat:              place.Coordinates.Lat,
		Lng:              place.Coordinates.Lng,
		FormattedAddress: place.FormattedAddress,
	})
}
