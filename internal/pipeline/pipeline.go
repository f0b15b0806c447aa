// Package pipeline enriches an incident into the bundle that seeds a crew's
// voice briefing. Every stage degrades to a placeholder on failure; Enrich never fails.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/imagery"
)

// ImageSource fetches the two views the pipeline analyzes.
type ImageSource interface {
	SatelliteImage(ctx context.Context, c domain.Coordinates) (imagery.Image, error)
	StreetViewImage(ctx context.Context, c domain.Coordinates) (imagery.Image, error)
}

// Analyzer turns an image of a location into guidance text.
type Analyzer interface {
	Analyze(ctx context.Context, address string, c domain.Coordinates, img imagery.Image) (string, error)
}

// StructuredExtractor produces the structured positioning overlay. It never fails.
type StructuredExtractor interface {
	GenerateStructuredPositioning(ctx context.Context, address string, c domain.Coordinates, img imagery.Image) domain.StructuredPositioning
}

// Synthesizer writes the consolidated incident report.
type Synthesizer interface {
	Synthesize(ctx context.Context, address, callerNotes, sceneAnalysis, positioningGuidance string) (string, error)
}

// Compressor shortens text at the given aggressiveness.
type Compressor interface {
	Compress(ctx context.Context, text string, aggressiveness float64) (string, error)
}

// Deps are the collaborators a Pipeline runs. Structured is optional.
type Deps struct {
	Images      ImageSource
	Scene       Analyzer
	Positioning Analyzer
	Structured  StructuredExtractor
	Reports     Synthesizer
	Compressor  Compressor
}

// Pipeline is the incident intelligence orchestrator.
type Pipeline struct {
	deps           Deps
	aggressiveness float64
	log            *slog.Logger
}

// New creates a Pipeline that compresses enrichment at the given aggressiveness.
func New(deps Deps, aggressiveness float64, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{deps: deps, aggressiveness: aggressiveness, log: log}
}

// Enrich runs every stage for inc and returns the bundle. The scene and
// positioning branches run concurrently; each substitutes its documented
// placeholder on failure, so the bundle is always fully populated.
func (p *Pipeline) Enrich(ctx context.Context, inc domain.Incident) domain.EnrichmentBundle {
	log := p.log.With("incident", inc.ID)
	var bundle domain.EnrichmentBundle

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bundle.SceneAnalysis = p.sceneBranch(gCtx, inc, log)
		return nil
	})
	g.Go(func() error {
		bundle.PositioningGuidance, bundle.StructuredPositioning = p.positioningBranch(gCtx, inc, log)
		return nil
	})
	_ = g.Wait()

	report, err := p.deps.Reports.Synthesize(ctx, inc.Address, inc.CallerNotes, bundle.SceneAnalysis, bundle.PositioningGuidance)
	if err != nil {
		log.Warn("Report synthesis degraded", "error", err)
		report = "Failed to generate EMS report: " + err.Error()
	}
	bundle.EMSReport = report

	c, cCtx := errgroup.WithContext(ctx)
	c.Go(func() error {
		bundle.CompressedScene = p.compressOrKeep(cCtx, "scene", bundle.SceneAnalysis, log)
		return nil
	})
	c.Go(func() error {
		bundle.CompressedPositioning = p.compressOrKeep(cCtx, "positioning", bundle.PositioningGuidance, log)
		return nil
	})
	_ = c.Wait()

	log.Info("Incident enriched",
		"scene_chars", len(bundle.SceneAnalysis),
		"positioning_chars", len(bundle.PositioningGuidance),
		"report_chars", len(bundle.EMSReport),
	)
	return bundle
}

func (p *Pipeline) sceneBranch(ctx context.Context, inc domain.Incident, log *slog.Logger) string {
	img, err := p.deps.Images.SatelliteImage(ctx, inc.Coordinates)
	if err == nil {
		var text string
		if text, err = p.deps.Scene.Analyze(ctx, inc.Address, inc.Coordinates, img); err == nil {
			return text
		}
	}
	log.Warn("Scene analysis degraded", "error", err)
	return "Scene analysis unavailable: " + err.Error()
}

func (p *Pipeline) positioningBranch(ctx context.Context, inc domain.Incident, log *slog.Logger) (string, *domain.StructuredPositioning) {
	img, err := p.deps.Images.StreetViewImage(ctx, inc.Coordinates)
	if err != nil {
		log.Warn("Positioning guidance degraded", "stage", "street_view", "error", err)
		var sp *domain.StructuredPositioning
		if p.deps.Structured != nil {
			u := domain.UnavailablePositioning(err.Error())
			sp = &u
		}
		return "Positioning guidance unavailable: " + err.Error(), sp
	}

	var (
		text string
		sp   *domain.StructuredPositioning
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var aErr error
		if text, aErr = p.deps.Positioning.Analyze(gCtx, inc.Address, inc.Coordinates, img); aErr != nil {
			log.Warn("Positioning guidance degraded", "stage", "analysis", "error", aErr)
			text = "Positioning guidance unavailable: " + aErr.Error()
		}
		return nil
	})
	if p.deps.Structured != nil {
		g.Go(func() error {
			s := p.deps.Structured.GenerateStructuredPositioning(gCtx, inc.Address, inc.Coordinates, img)
			sp = &s
			return nil
		})
	}
	_ = g.Wait()
	return text, sp
}

// compressOrKeep returns the compressed text, or text itself when compression
// fails or yields nothing.
func (p *Pipeline) compressOrKeep(ctx context.Context, field, text string, log *slog.Logger) string {
	out, err := p.deps.Compressor.Compress(ctx, text, p.aggressiveness)
	if err != nil {
		log.Warn("Compression skipped", "field", field, "error", err)
		return text
	}
	if strings.TrimSpace(out) == "" {
		log.Warn("Compression returned empty output", "field", field)
		return text
	}
	return out
}
