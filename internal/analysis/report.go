package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/usman-khan12/Vectr/internal/llm"
)

// ReportSynthesizer writes radio-readable incident reports. Section headers are a
// prompt convention; the model's output is returned as-is.
type ReportSynthesizer struct {
	gen Generator
	log *slog.Logger
}

// NewReportSynthesizer creates a ReportSynthesizer.
func NewReportSynthesizer(gen Generator, log *slog.Logger) *ReportSynthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &ReportSynthesizer{gen: gen, log: log}
}

// Synthesize merges caller notes with the scene and positioning analyses into the
// six-section tactical scene report.
func (s *ReportSynthesizer) Synthesize(ctx context.Context, address, callerNotes, sceneAnalysis, positioningGuidance string) (string, error) {
	text, err := generateText(ctx, s.gen, llm.Request{
		Prompt: fmt.Sprintf(promptIncidentReport, address, callerNotes, sceneAnalysis, positioningGuidance),
	})
	if err != nil {
		return "", err
	}
	s.log.Info("Incident report generated", "address", address, "chars", len(text))
	return text, nil
}

// SynthesizeFromCall writes the seven-section scene report from compressed 911 call text.
func (s *ReportSynthesizer) SynthesizeFromCall(ctx context.Context, compressedCallText string) (string, error) {
	text, err := generateText(ctx, s.gen, llm.Request{
		Prompt: fmt.Sprintf(promptCallReport, compressedCallText),
	})
	if err != nil {
		return "", err
	}
	s.log.Info("Call report generated", "chars", len(text))
	return text, nil
}
