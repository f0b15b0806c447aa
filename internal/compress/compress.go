// Package compress is the client for the remote text compression service used to
// pack enrichment text into size-bounded side channels.
package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/usman-khan12/Vectr/internal/domain"
)

const (
	credentialSetting = "TOKEN_COMPANY_API_KEY"
	providerName      = "compression"

	maxResponseBytes = 4 << 20
)

// ErrInvalidAggressiveness reports an aggressiveness outside [0,1]. Request
// handlers check with ValidAggressiveness; Compress itself does not.
var ErrInvalidAggressiveness = errors.New("aggressiveness must be between 0.0 and 1.0")

// ValidAggressiveness reports whether a is inside [0,1].
func ValidAggressiveness(a float64) bool {
	return a >= 0 && a <= 1
}

// Option configures the Client.
type Option func(*Client)

// WithURL overrides the compression endpoint.
func WithURL(u string) Option {
	return func(c *Client) { c.url = u }
}

// WithModel overrides the compression model.
func WithModel(m string) Option {
	return func(c *Client) { c.model = m }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client compresses text.
type Client struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a compression client. An empty apiKey is accepted; every call
// then fails with a ConfigurationError.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		url:        "https://api.thetokencompany.com/v1/compress",
		model:      "bear-1",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

type compressionSettings struct {
	Aggressiveness  float64 `json:"aggressiveness"`
	MaxOutputTokens *int    `json:"max_output_tokens"`
	MinOutputTokens *int    `json:"min_output_tokens"`
}

type compressRequest struct {
	Model    string              `json:"model"`
	Settings compressionSettings `json:"compression_settings"`
	Input    string              `json:"input"`
}

// Compress returns a token-efficient form of text. Aggressiveness is sent as-is;
// range checks belong to the caller.
func (c *Client) Compress(ctx context.Context, text string, aggressiveness float64) (string, error) {
	if c.apiKey == "" {
		return "", &domain.ConfigurationError{Setting: credentialSetting}
	}

	body, err := json.Marshal(compressRequest{
		Model:    c.model,
		Settings: compressionSettings{Aggressiveness: aggressiveness},
		Input:    text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal compression request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build compression request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.Upstream(providerName, "error calling compression service", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.Debug("Failed to close compression body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.UpstreamError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    "compression service returned an error",
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", domain.Upstream(providerName, "error reading compression response", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", domain.Upstream(providerName, "invalid response from compression service", err)
	}
	var output string
	out, ok := fields["output"]
	if !ok || len(out) == 0 || out[0] != '"' {
		return "", domain.Upstream(providerName, "invalid response from compression service", errors.New("output is not a string"))
	}
	if err := json.Unmarshal(out, &output); err != nil {
		return "", domain.Upstream(providerName, "invalid response from compression service", err)
	}

	c.log.Debug("Compressed text", "in_chars", len(text), "out_chars", len(output), "aggressiveness", aggressiveness)
	return output, nil
}
