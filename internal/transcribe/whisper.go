package transcribe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/usman-khan12/Vectr/internal/domain"
)

const whisperProvider = "whisper"

// Whisper transcribes through any OpenAI-compatible audio transcription endpoint.
type Whisper struct {
	apiKey string
	model  string
	api    *openai.Client
	log    *slog.Logger
}

// NewWhisper creates the Whisper backend. An empty apiKey makes every call fail
// with a ConfigurationError.
func NewWhisper(apiKey, baseURL, model string, timeout time.Duration, log *slog.Logger) *Whisper {
	if log == nil {
		log = slog.Default()
	}
	if model == "" {
		model = openai.Whisper1
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Whisper{
		apiKey: apiKey,
		model:  model,
		api:    openai.NewClientWithConfig(cfg),
		log:    log,
	}
}

// Name identifies the backend in logs.
func (w *Whisper) Name() string { return whisperProvider }

// Transcribe implements Transcriber.
func (w *Whisper) Transcribe(ctx context.Context, audioBase64 string) (string, error) {
	if w.apiKey == "" {
		return "", &domain.ConfigurationError{Setting: "WHISPER_API_KEY"}
	}
	_, data, err := normalizeAudio(audioBase64)
	if err != nil {
		return "", err
	}

	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "intake.wav",
		Reader:   bytes.NewReader(data),
		Language: "en",
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		up := domain.Upstream(whisperProvider, "transcription request failed", err)
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			up.StatusCode = apiErr.HTTPStatusCode
		case errors.As(err, &reqErr):
			up.StatusCode = reqErr.HTTPStatusCode
		}
		return "", up
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", domain.Upstream(whisperProvider, "empty transcript", nil)
	}

	w.log.Info("Transcribed audio", "backend", whisperProvider, "chars", len(resp.Text))
	return resp.Text, nil
}
