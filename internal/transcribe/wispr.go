package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/usman-khan12/Vectr/internal/domain"
)

const wisprProvider = "wispr"

// Wispr transcribes through the Wispr Flow REST API.
type Wispr struct {
	apiKey     string
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

// NewWispr creates the Wispr backend. An empty apiKey makes every call fail with
// a ConfigurationError.
func NewWispr(apiKey, url string, timeout time.Duration, log *slog.Logger) *Wispr {
	if log == nil {
		log = slog.Default()
	}
	return &Wispr{
		apiKey:     apiKey,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Name identifies the backend in logs.
func (w *Wispr) Name() string { return wisprProvider }

type wisprApp struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type wisprRequest struct {
	Audio    string   `json:"audio"`
	Language []string `json:"language"`
	Context  struct {
		App wisprApp `json:"app"`
	} `json:"context"`
}

type wisprResponse struct {
	Text *string `json:"text"`
}

// Transcribe implements Transcriber.
func (w *Wispr) Transcribe(ctx context.Context, audioBase64 string) (string, error) {
	if w.apiKey == "" {
		return "", &domain.ConfigurationError{Setting: "WISPR_API_KEY"}
	}
	audio, _, err := normalizeAudio(audioBase64)
	if err != nil {
		return "", err
	}

	payload := wisprRequest{Audio: audio, Language: []string{"en"}}
	payload.Context.App = wisprApp{Name: "Vectr Dispatch", Type: "other"}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal wispr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build wispr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", domain.Upstream(wisprProvider, "error calling Wispr API", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			w.log.Debug("Failed to close wispr body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.UpstreamError{Provider: wisprProvider, StatusCode: resp.StatusCode, Message: "Wispr API returned an error"}
	}

	var out wisprResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", domain.Upstream(wisprProvider, "invalid response from Wispr API", err)
	}
	if out.Text == nil || strings.TrimSpace(*out.Text) == "" {
		return "", domain.Upstream(wisprProvider, "empty transcript", nil)
	}

	w.log.Info("Transcribed audio", "backend", wisprProvider, "chars", len(*out.Text))
	return *out.Text, nil
}
