package handlers

import (
	"net/http"

	"github.com/medigate/navigator/internal/domain/repositories"
)

// HealthHandler reports process liveness plus the loaded dataset size so
// a misconfigured dataset path is visible from the outside
type HealthHandler struct {
	directory repositories.ClinicDirectory
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(directory repositories.ClinicDirectory) *HealthHandler {
	return &HealthHandler{directory: directory}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clinics": h.directory.Size(),
	})
}
