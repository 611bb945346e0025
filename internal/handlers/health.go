package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/ollama-relay/internal/models"
)

type modelsResponse struct {
	Models []string `json:"models"`
}

// HandleHealth reports that the relay is up, with the current time.
func (m Main) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.fail(w, endpointHealth, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	m.writeJSON(w, endpointHealth, http.StatusOK, models.Health{
		Status:  "ok",
		Service: m.service,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleModels lists the models installed on the backend.
func (m Main) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.fail(w, endpointModels, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	names, err := m.backend.Models(r.Context())
	if err != nil {
		m.logger.Error("Failed to list models", slog.String(errLoggerKey, err.Error()))
		m.metrics.RecordBackendError(endpointModels)
		m.fail(w, endpointModels, http.StatusBadGateway, "Ollama error: "+err.Error())
		return
	}

	m.writeJSON(w, endpointModels, http.StatusOK, modelsResponse{Models: names})
}
