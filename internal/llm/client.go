// Package llm provides the vision-capable language model client used for scene
// analysis, positioning guidance, report synthesis, and spoken replies. It talks to
// any OpenAI-compatible chat completions endpoint; by default Gemini's.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/usman-khan12/Vectr/internal/domain"
)

const (
	credentialSetting = "GEMINI_API_KEY"
	providerName      = "language model"
)

// Image is an inline image attached to a prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURL renders the image as a base64 data URL.
func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Request is one generation call: optional system instructions, a prompt, and
// optional inline images.
type Request struct {
	System string
	Prompt string
	Images []Image
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithModel overrides the default model name.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithBaseURL points the client at a different OpenAI-compatible API root.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float32) ClientOption {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int) ClientOption {
	return func(c *Client) { c.maxTokens = n }
}

// WithHTTPTimeout sets the HTTP client timeout.
func WithHTTPTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// Client generates text from prompts and images.
type Client struct {
	api         *openai.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	log         *slog.Logger
}

// NewClient creates a language model client. An empty apiKey is accepted; every
// call then fails with a ConfigurationError.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     "https://generativelanguage.googleapis.com/v1beta/openai",
		model:       "gemini-2.5-flash-lite",
		temperature: 0.4,
		timeout:     30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.baseURL
	cfg.HTTPClient = &http.Client{Timeout: c.timeout}
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate submits the request and returns the model's text. Empty or
// whitespace-only output is an UpstreamError.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", &domain.ConfigurationError{Setting: credentialSetting}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", upstreamFromAPI(err)
	}

	if len(resp.Choices) == 0 {
		return "", domain.Upstream(providerName, "empty response (no choices)", nil)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", domain.Upstream(providerName, "empty response text", nil)
	}

	c.log.Debug("Model reply", "model", c.model, "chars", len(text), "images", len(req.Images))
	return text, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	if len(req.Images) == 0 {
		return append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: img.DataURL(), Detail: openai.ImageURLDetailAuto},
		})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})
}

func upstreamFromAPI(err error) error {
	up := domain.Upstream(providerName, "request failed", err)
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		up.StatusCode = apiErr.HTTPStatusCode
		up.Message = "API error"
	case errors.As(err, &reqErr):
		up.StatusCode = reqErr.HTTPStatusCode
		up.Message = "non-success response"
	}
	return up
}
