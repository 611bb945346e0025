package stream

import (
	"encoding/json"

	"github.com/MegaGrindStone/ollama-relay/internal/models"
	"github.com/ollama/ollama/api"
)

// wireFrame is a line of Ollama's streaming generate reply. Failures after the stream started are
// reported in-band as {"error": "..."}.
type wireFrame struct {
	api.GenerateResponse

	Error string `json:"error,omitempty"`
}

// DecodeFrame parses one complete line of the backend stream. It reports false for empty lines and lines
// that are not valid frames; such lines are meant to be skipped, never to fail the stream.
func DecodeFrame(line string) (models.Frame, bool) {
	if line == "" {
		return models.Frame{}, false
	}

	var wf wireFrame
	if err := json.Unmarshal([]byte(line), &wf); err != nil {
		return models.Frame{}, false
	}

	return models.Frame{
		Fragment: wf.Response,
		IsFinal:  wf.Done,
		Err:      wf.Error,
	}, true
}
