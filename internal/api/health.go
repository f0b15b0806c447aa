package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/usman-khan12/Vectr/internal/config"
)

// RoomLister reports open rooms.
type RoomLister interface {
	Names() []string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	cfg   *config.Config
	rooms RoomLister
}

// NewHealthHandler creates a new health handler. Both arguments may be nil.
func NewHealthHandler(cfg *config.Config, rooms RoomLister) *HealthHandler {
	return &HealthHandler{cfg: cfg, rooms: rooms}
}

// Health reports service status, open rooms, and which provider credentials are
// configured. A missing credential for an active provider degrades the status
// but the service stays up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	if h.rooms != nil {
		status["rooms"] = len(h.rooms.Names())
	}
	if h.cfg != nil {
		creds := h.cfg.CredentialStatus()
		status["credentials"] = creds
		unused := "WHISPER_API_KEY"
		if h.cfg.Transcriber == config.TranscriberWhisper {
			unused = "WISPR_API_KEY"
		}
		for name, ok := range creds {
			if !ok && name != unused {
				status["status"] = "degraded"
			}
		}
		status["transcriber"] = h.cfg.Transcriber
	}
	JSON(w, http.StatusOK, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
