package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/usman-khan12/Vectr/internal/analysis"
	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/llm"
)

// Voice turns speaking instructions into the words the agent says.
type Voice interface {
	Compose(ctx context.Context, address, instructions string) (string, error)
}

// LLMVoice composes replies with the language model under the VECTR persona.
type LLMVoice struct {
	gen analysis.Generator
	log *slog.Logger
}

// NewLLMVoice creates a voice backed by gen.
func NewLLMVoice(gen analysis.Generator, log *slog.Logger) *LLMVoice {
	if log == nil {
		log = slog.Default()
	}
	return &LLMVoice{gen: gen, log: log}
}

// Compose generates a spoken reply for instructions.
func (v *LLMVoice) Compose(ctx context.Context, address, instructions string) (string, error) {
	text, err := v.gen.Generate(ctx, llm.Request{
		System: analysis.Persona(address),
		Prompt: instructions,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.Upstream("language model", "empty response text", nil)
	}
	v.log.Debug("Composed reply", "chars", len(text))
	return text, nil
}
