package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/ollama-relay/internal/models"
	"github.com/MegaGrindStone/ollama-relay/internal/stream"
	"github.com/tmaxmax/go-sse"
)

// HandleStream answers a question as Server-Sent Events. It expects a POST with a JSON body
// {"question": "..."}. Each SSE frame carries one JSON event: zero or more fragments followed by at most
// one complete or error event.
//
// The answer is produced by a background Reframer and handed over through a bounded Transport; this
// handler only drains the transport into the response. When the client goes away the transport is
// detached and the producer stops at its next send.
func (m Main) HandleStream(w http.ResponseWriter, r *http.Request) {
	logger := m.requestLogger(w)

	question, ok := m.readQuestion(w, r, logger, endpointStream)
	if !ok {
		return
	}
	logger.Info("Question received", slog.String("endpoint", endpointStream), slog.Int("length", len(question)))

	t, err := stream.NewTransport(m.capacity)
	if err != nil {
		logger.Error("Failed to create transport", slog.String(errLoggerKey, err.Error()))
		m.fail(w, endpointStream, http.StatusInternalServerError, err.Error())
		return
	}

	reframer := stream.NewReframer(m.backend, stream.Options{
		Pacing:     m.pacing,
		ReadBuffer: m.readBuffer,
		Logger:     logger,
		Observer:   m.metrics,
	})

	// The producer only fills the buffered transport, so it may start before the response is committed.
	started := m.producers.start(func() {
		m.metrics.StreamStarted()
		reframer.Run(m.ctx, question, t)
	})
	if !started {
		logger.Warn("Refusing stream, server is shutting down")
		m.fail(w, endpointStream, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		t.Detach()
		logger.Error("Streaming unsupported", slog.String(errLoggerKey, err.Error()))
		m.fail(w, endpointStream, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Commit the headers now; the first event may take the model a while.
	if err := sess.Flush(); err != nil {
		t.Detach()
		logger.Error("Failed to start stream", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.metrics.RecordRequest(endpointStream, http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			t.Detach()
			logger.Info("Client disconnected")
			return
		case e, ok := <-t.Events():
			if !ok {
				return
			}
			if err := sendEvent(sess, e); err != nil {
				t.Detach()
				logger.Warn("Failed to send event", slog.String(errLoggerKey, err.Error()))
				return
			}
		}
	}
}

func sendEvent(sess *sse.Session, e models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sse.Message{}
	msg.AppendData(string(data))
	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return sess.Flush()
}
