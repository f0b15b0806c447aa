package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing credential or setting. It is fatal for the
// calling request and not retryable.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return e.Setting + " is not configured"
}

// UpstreamError reports a provider call that failed, timed out, or returned an
// unusable response.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, msg, e.Err)
	}
	return e.Provider + ": " + msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ExtractionError reports structured model output that did not parse or validate.
// It is always converted into a degraded StructuredPositioning.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return "structured extraction: " + e.Err.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsUpstream reports whether err is or wraps an UpstreamError.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// Upstream builds an UpstreamError for provider with an optional cause.
func Upstream(provider, message string, err error) *UpstreamError {
	return &UpstreamError{Provider: provider, Message: message, Err: err}
}
