// Package transcribe turns base64-encoded call audio into text. Two
// interchangeable backends exist; configuration selects one.
package transcribe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/usman-khan12/Vectr/internal/config"
)

// ErrInvalidAudio is returned when the audio payload is blank or not base64.
var ErrInvalidAudio = errors.New("invalid audio_base64")

// Transcriber converts base64 audio to a transcript. An empty transcript is an
// UpstreamError.
type Transcriber interface {
	Transcribe(ctx context.Context, audioBase64 string) (string, error)
	Name() string
}

// New returns the backend named by cfg.Transcriber.
func New(cfg *config.Config, log *slog.Logger) (Transcriber, error) {
	p := cfg.Providers
	switch cfg.Transcriber {
	case config.TranscriberWispr:
		return NewWispr(p.WisprAPIKey, p.WisprURL, p.TranscriptionTimeout, log), nil
	case config.TranscriberWhisper:
		return NewWhisper(p.WhisperAPIKey, p.WhisperBaseURL, p.WhisperModel, p.TranscriptionTimeout, log), nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q", cfg.Transcriber)
	}
}

// normalizeAudio strips an optional data URL prefix and whitespace and checks
// that the remainder decodes. It returns the cleaned base64 text and the bytes.
func normalizeAudio(audioBase64 string) (string, []byte, error) {
	s := strings.TrimSpace(audioBase64)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx != -1 {
			s = s[idx+1:]
		}
	}
	if s == "" {
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidAudio)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidAudio)
	}
	return s, data, nil
}
