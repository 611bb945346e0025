package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/ollama-relay/internal/models"
)

// HandleAsk answers a question in one piece. It expects a POST with a JSON body {"question": "..."} and
// responds with a single complete event. Backend failures are reported as 500 with the error as plain
// text.
func (m Main) HandleAsk(w http.ResponseWriter, r *http.Request) {
	logger := m.requestLogger(w)

	question, ok := m.readQuestion(w, r, logger, endpointAsk)
	if !ok {
		return
	}
	logger.Info("Question received", slog.String("endpoint", endpointAsk), slog.Int("length", len(question)))

	answer, err := m.backend.FetchComplete(r.Context(), question)
	if err != nil {
		logger.Error("Backend request failed", slog.String(errLoggerKey, err.Error()))
		m.metrics.RecordBackendError(endpointAsk)
		m.fail(w, endpointAsk, http.StatusInternalServerError, "Ollama error: "+err.Error())
		return
	}

	m.writeJSON(w, endpointAsk, http.StatusOK, models.CompleteEvent(answer))
}

// readQuestion validates the method and body shared by /ask and /stream. It writes the error response
// itself and reports false when the request is malformed.
func (m Main) readQuestion(w http.ResponseWriter, r *http.Request, logger *slog.Logger, endpoint string) (string, bool) {
	if r.Method != http.MethodPost {
		logger.Error("Method not allowed", slog.String("method", r.Method))
		m.fail(w, endpoint, http.StatusMethodNotAllowed, "Method not allowed")
		return "", false
	}

	var q models.Question
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuestionBytes)).Decode(&q); err != nil {
		logger.Error("Invalid request body", slog.String(errLoggerKey, err.Error()))
		m.fail(w, endpoint, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return "", false
	}

	if strings.TrimSpace(q.Question) == "" {
		logger.Error("Question is required")
		m.fail(w, endpoint, http.StatusBadRequest, "Question is required")
		return "", false
	}

	return q.Question, true
}
