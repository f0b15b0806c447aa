// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/usman-khan12/Vectr/internal/shared"
)

// Transcriber backends.
const (
	TranscriberWispr   = "wispr"
	TranscriberWhisper = "whisper"
)

// Config holds all application configuration. It is built once at startup and
// passed by pointer into each collaborator.
type Config struct {
	Port               string
	FrontendURL        string
	Providers          ProviderConfig
	Pipeline           PipelineConfig
	Channel            ChannelConfig
	RateLimit          RateLimitConfig
	SSE                SSEConfig
	UtteranceLog       UtteranceLogConfig
	Transcriber        string
	DemoIntakeFallback bool
}

// ProviderConfig holds credentials and endpoints for external providers.
// Empty credentials are allowed; the affected provider reports a configuration error per call.
type ProviderConfig struct {
	GoogleMapsAPIKey   string
	MapsBaseURL        string
	StreetViewURL      string
	GeminiAPIKey       string
	LLMBaseURL         string
	LLMModel           string
	TokenCompanyAPIKey string
	CompressionURL     string
	CompressionModel   string
	WisprAPIKey        string
	WisprURL           string
	WhisperAPIKey      string
	WhisperBaseURL     string
	WhisperModel       string

	Timeout              time.Duration
	TranscriptionTimeout time.Duration
}

// PipelineConfig tunes the enrichment pipeline.
type PipelineConfig struct {
	SideChannelLimit int
	Aggressiveness   float64
}

// ChannelConfig controls voice channel rooms.
type ChannelConfig struct {
	EmptyTimeout  time.Duration
	ReapInterval  time.Duration
	MetadataLimit int
}

// RateLimitConfig throttles dispatcher briefings per room.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the dispatcher console stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// UtteranceLogConfig controls NDJSON logging of spoken utterances.
type UtteranceLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		Providers: ProviderConfig{
			GoogleMapsAPIKey:     firstEnv("GOOGLE_MAPS_API_KEY", "VITE_GOOGLE_MAPS_API_KEY"),
			MapsBaseURL:          getEnv("MAPS_BASE_URL", ""),
			StreetViewURL:        getEnv("STREET_VIEW_URL", "https://maps.googleapis.com/maps/api/streetview"),
			GeminiAPIKey:         firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			LLMBaseURL:           getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
			LLMModel:             getEnv("LLM_MODEL", "gemini-2.5-flash-lite"),
			TokenCompanyAPIKey:   getEnv("TOKEN_COMPANY_API_KEY", ""),
			CompressionURL:       getEnv("COMPRESSION_URL", "https://api.thetokencompany.com/v1/compress"),
			CompressionModel:     getEnv("COMPRESSION_MODEL", "bear-1"),
			WisprAPIKey:          getEnv("WISPR_API_KEY", ""),
			WisprURL:             getEnv("WISPR_URL", "https://api.wisprflow.ai/api"),
			WhisperAPIKey:        getEnv("WHISPER_API_KEY", ""),
			WhisperBaseURL:       getEnv("WHISPER_BASE_URL", "https://api.openai.com/v1"),
			WhisperModel:         getEnv("WHISPER_MODEL", "whisper-1"),
			Timeout:              getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
			TranscriptionTimeout: getEnvDuration("TRANSCRIPTION_TIMEOUT", 60*time.Second),
		},
		Pipeline: PipelineConfig{
			SideChannelLimit: getEnvInt("SIDE_CHANNEL_LIMIT", 1000),
			Aggressiveness:   getEnvFloat("ENRICHMENT_AGGRESSIVENESS", 0.3),
		},
		Channel: ChannelConfig{
			EmptyTimeout:  getEnvDuration("ROOM_EMPTY_TIMEOUT", 5*time.Minute),
			ReapInterval:  getEnvDuration("ROOM_REAP_INTERVAL", 30*time.Second),
			MetadataLimit: getEnvInt("ROOM_METADATA_LIMIT", 64*1024),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("BRIEFING_RATE_LIMIT", 20),
			WindowDuration:    getEnvDuration("BRIEFING_RATE_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 10<<20)),
		},
		UtteranceLog: UtteranceLogConfig{
			Enabled:   getEnvBool("UTTERANCE_LOG_ENABLED", false),
			Dir:       getEnv("UTTERANCE_LOG_DIR", "./data/logs/utterances"),
			QueueSize: getEnvInt("UTTERANCE_LOG_QUEUE_SIZE", 1000),
		},
		Transcriber:        strings.ToLower(getEnv("TRANSCRIBER", TranscriberWispr)),
		DemoIntakeFallback: getEnvBool("INTAKE_DEMO_FALLBACK", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Pipeline.SideChannelLimit <= 0 {
		return fmt.Errorf("SIDE_CHANNEL_LIMIT must be > 0")
	}
	if c.Pipeline.Aggressiveness < 0 || c.Pipeline.Aggressiveness > 1 {
		return fmt.Errorf("ENRICHMENT_AGGRESSIVENESS must be between 0.0 and 1.0")
	}
	if c.Providers.Timeout <= 0 || c.Providers.TranscriptionTimeout <= 0 {
		return fmt.Errorf("provider timeouts must be > 0")
	}
	if c.Channel.EmptyTimeout <= 0 || c.Channel.ReapInterval <= 0 {
		return fmt.Errorf("ROOM_EMPTY_TIMEOUT and ROOM_REAP_INTERVAL must be > 0")
	}
	if c.Channel.MetadataLimit < c.Pipeline.SideChannelLimit {
		return fmt.Errorf("ROOM_METADATA_LIMIT must be >= SIDE_CHANNEL_LIMIT")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("BRIEFING_RATE_LIMIT and BRIEFING_RATE_WINDOW must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.UtteranceLog.Enabled && c.UtteranceLog.Dir == "" {
		return fmt.Errorf("UTTERANCE_LOG_DIR cannot be empty")
	}
	if c.UtteranceLog.QueueSize <= 0 {
		return fmt.Errorf("UTTERANCE_LOG_QUEUE_SIZE must be > 0")
	}
	switch c.Transcriber {
	case TranscriberWispr, TranscriberWhisper:
	default:
		return fmt.Errorf("TRANSCRIBER must be %q or %q, got %q", TranscriberWispr, TranscriberWhisper, c.Transcriber)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// CredentialStatus reports which provider credentials are present, without their values.
func (c *Config) CredentialStatus() map[string]bool {
	return map[string]bool{
		"GOOGLE_MAPS_API_KEY":   c.Providers.GoogleMapsAPIKey != "",
		"GEMINI_API_KEY":        c.Providers.GeminiAPIKey != "",
		"TOKEN_COMPANY_API_KEY": c.Providers.TokenCompanyAPIKey != "",
		"WISPR_API_KEY":         c.Providers.WisprAPIKey != "",
		"WHISPER_API_KEY":       c.Providers.WhisperAPIKey != "",
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// firstEnv returns the first non-blank value among keys, trimmed.
func firstEnv(keys ...string) string {
	values := make([]string, len(keys))
	for i, key := range keys {
		values[i] = os.Getenv(key)
	}
	return strings.TrimSpace(shared.FirstNonEmpty(values...))
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
