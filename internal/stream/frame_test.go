package stream_test

import (
	"testing"

	"github.com/MegaGrindStone/ollama-relay/internal/models"
	"github.com/MegaGrindStone/ollama-relay/internal/stream"
	"github.com/stretchr/testify/assert"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   models.Frame
		wantOK bool
	}{
		{
			name:   "fragment",
			line:   `{"model":"m","created_at":"2024-01-01T00:00:00Z","response":"Hi","done":false}`,
			want:   models.Frame{Fragment: "Hi"},
			wantOK: true,
		},
		{
			name:   "final with empty response",
			line:   `{"response":"","done":true,"done_reason":"stop","eval_count":12}`,
			want:   models.Frame{IsFinal: true},
			wantOK: true,
		},
		{
			name:   "final with text",
			line:   `{"response":"!","done":true}`,
			want:   models.Frame{Fragment: "!", IsFinal: true},
			wantOK: true,
		},
		{
			name:   "in-band error",
			line:   `{"error":"model not found"}`,
			want:   models.Frame{Err: "model not found"},
			wantOK: true,
		},
		{
			name: "empty line",
			line: "",
		},
		{
			name: "not json",
			line: "data: hello",
		},
		{
			name: "truncated json",
			line: `{"response":"Hi","do`,
		},
		{
			name: "wrong field type",
			line: `{"response":42,"done":false}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := stream.DecodeFrame(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
