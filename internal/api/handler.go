// Package api provides the HTTP request layer around the incident pipeline and
// the voice sessions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/usman-khan12/Vectr/internal/channel"
	"github.com/usman-khan12/Vectr/internal/compress"
	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/transcribe"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) bool {
	if maxBytes <= 0 {
		maxBytes = defaultMaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps a collaborator error onto an HTTP status. Missing credentials
// are an operator problem and surface as 500; provider failures as 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, compress.ErrInvalidAggressiveness), errors.Is(err, transcribe.ErrInvalidAudio):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrRoomNotFound), errors.Is(err, channel.ErrRoomClosed):
		return http.StatusNotFound
	case domain.IsConfiguration(err):
		return http.StatusInternalServerError
	case domain.IsUpstream(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// providerError logs err and writes the mapped error response.
func providerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	log := slog.With("op", op, "error", err, "status", status, "request_id", chiMiddleware.GetReqID(r.Context()))
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Warn("Request rejected")
	}
	Error(w, status, err.Error())
}

func validCoordinates(c domain.Coordinates) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
