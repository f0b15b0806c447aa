// Package analysis turns imagery and notes into tactical guidance: satellite scene
// assessments, street-level positioning (free text and structured), and
// consolidated incident reports.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/imagery"
	"github.com/usman-khan12/Vectr/internal/llm"
)

// Generator is the language model capability the analyzers depend on.
// *llm.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// SceneAnalyzer assesses a satellite image of an incident location.
type SceneAnalyzer struct {
	gen Generator
	log *slog.Logger
}

// NewSceneAnalyzer creates a SceneAnalyzer.
func NewSceneAnalyzer(gen Generator, log *slog.Logger) *SceneAnalyzer {
	if log == nil {
		log = slog.Default()
	}
	return &SceneAnalyzer{gen: gen, log: log}
}

// Analyze returns a bullet-style tactical assessment of the image. It fails with
// ConfigurationError or UpstreamError from the model; empty output is an UpstreamError.
func (a *SceneAnalyzer) Analyze(ctx context.Context, address string, c domain.Coordinates, img imagery.Image) (string, error) {
	prompt := fmt.Sprintf(promptScene, address, formatDegrees(c.Lat), formatDegrees(c.Lng))
	text, err := generateText(ctx, a.gen, llm.Request{
		Prompt: prompt,
		Images: []llm.Image{toLLMImage(img, "image/png")},
	})
	if err != nil {
		return "", err
	}
	a.log.Info("Scene analysis complete", "address", address, "chars", len(text))
	return text, nil
}

// PositioningAnalyzer reads a street-level image for parking, stretcher path, and
// egress guidance.
type PositioningAnalyzer struct {
	gen Generator
	log *slog.Logger
}

// NewPositioningAnalyzer creates a PositioningAnalyzer.
func NewPositioningAnalyzer(gen Generator, log *slog.Logger) *PositioningAnalyzer {
	if log == nil {
		log = slog.Default()
	}
	return &PositioningAnalyzer{gen: gen, log: log}
}

// Analyze returns free-text positioning guidance. Coordinates are accepted for
// parity with the scene analyzer; the prompt is keyed on the address only.
func (a *PositioningAnalyzer) Analyze(ctx context.Context, address string, _ domain.Coordinates, img imagery.Image) (string, error) {
	text, err := generateText(ctx, a.gen, llm.Request{
		Prompt: fmt.Sprintf(promptPositioning, address),
		Images: []llm.Image{toLLMImage(img, "image/jpeg")},
	})
	if err != nil {
		return "", err
	}
	a.log.Info("Positioning guidance complete", "address", address, "chars", len(text))
	return text, nil
}

// Persona returns the voice agent's system prompt, mentioning the active
// incident address when one is known.
func Persona(address string) string {
	line := ""
	if address != "" {
		line = "You are currently managing an active incident at: " + address + "."
	}
	return fmt.Sprintf(PersonaInstructions, line)
}

// generateText calls the model and rejects blank output, which downstream
// consumers cannot use.
func generateText(ctx context.Context, gen Generator, req llm.Request) (string, error) {
	text, err := gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.Upstream("language model", "empty response text", nil)
	}
	return text, nil
}

func toLLMImage(img imagery.Image, fallbackMIME string) llm.Image {
	mime := img.MIMEType
	if mime == "" {
		mime = fallbackMIME
	}
	return llm.Image{Data: img.Data, MIMEType: mime}
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
