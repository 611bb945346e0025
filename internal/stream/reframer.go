package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/ollama-relay/internal/models"
)

// Defaults for Reframer options.
const (
	DefaultPacing     = 15 * time.Millisecond
	DefaultReadBuffer = 4096
)

// Outcomes reported to the Observer when a stream ends.
const (
	OutcomeComplete     = "complete"
	OutcomeError        = "error"
	OutcomeEOF          = "eof"
	OutcomeFailed       = "failed"
	OutcomeDisconnected = "disconnected"
)

const errLoggerKey = "error"

// Opener opens the backend byte stream answering a question.
type Opener interface {
	OpenStream(ctx context.Context, question string) (io.ReadCloser, error)
}

// Observer is notified of what a Reframer does. Implementations must be safe for concurrent use.
type Observer interface {
	FragmentSent()
	FrameDropped()
	StreamFinished(outcome string, elapsed time.Duration)
}

// Options configure a Reframer. Zero values select the defaults.
type Options struct {
	// Pacing is the pause after every fragment event. Negative disables pacing.
	Pacing     time.Duration
	ReadBuffer int
	Logger     *slog.Logger
	Observer   Observer
}

// Reframer converts the backend's newline-delimited JSON stream into outbound events.
type Reframer struct {
	opener     Opener
	pacing     time.Duration
	readBuffer int

	logger   *slog.Logger
	observer Observer
}

type nopObserver struct{}

func (nopObserver) FragmentSent() {}

func (nopObserver) FrameDropped() {}

func (nopObserver) StreamFinished(string, time.Duration) {}

// NewReframer creates a Reframer reading from opener.
func NewReframer(opener Opener, opts Options) Reframer {
	r := Reframer{
		opener:     opener,
		pacing:     opts.Pacing,
		readBuffer: opts.ReadBuffer,
		logger:     opts.Logger,
		observer:   opts.Observer,
	}
	if r.pacing == 0 {
		r.pacing = DefaultPacing
	}
	if r.readBuffer <= 0 {
		r.readBuffer = DefaultReadBuffer
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	return r
}

// Run streams the answer to question into t and closes t when done. It is the producer side of t and is
// meant to run in its own goroutine.
//
// At most one terminal event is sent, and nothing after it. If the backend closes the stream without a
// final frame, or fails mid-stream, t is closed without a terminal event. A consumer that detached ends
// the run at the next send; that is not treated as a failure.
func (r Reframer) Run(ctx context.Context, question string, t *Transport) {
	defer t.Close()

	start := time.Now()
	outcome := r.run(ctx, question, t)
	r.observer.StreamFinished(outcome, time.Since(start))
	r.logger.Debug("Stream finished", slog.String("outcome", outcome), slog.Duration("elapsed", time.Since(start)))
}

func (r Reframer) run(ctx context.Context, question string, t *Transport) string {
	body, err := r.opener.OpenStream(ctx, question)
	if err != nil {
		r.logger.Error("Failed to open backend stream", slog.String(errLoggerKey, err.Error()))
		if err := t.Send(ctx, models.ErrorEvent(err.Error())); err != nil {
			return OutcomeDisconnected
		}
		return OutcomeError
	}
	defer body.Close()

	var (
		lines  LineReassembler
		answer strings.Builder
		chunk  = make([]byte, r.readBuffer)
	)

	for {
		n, readErr := body.Read(chunk)

		for _, line := range lines.Feed(chunk[:n]) {
			frame, ok := DecodeFrame(line)
			if !ok {
				if line != "" {
					r.observer.FrameDropped()
					r.logger.Debug("Dropped malformed backend line", slog.String("line", line))
				}
				continue
			}

			if frame.Err != "" {
				r.logger.Error("Backend reported an error", slog.String(errLoggerKey, frame.Err))
				if err := t.Send(ctx, models.ErrorEvent(frame.Err)); err != nil {
					return OutcomeDisconnected
				}
				return OutcomeError
			}

			if frame.Fragment != "" {
				answer.WriteString(frame.Fragment)
				if err := t.Send(ctx, models.FragmentEvent(frame.Fragment)); err != nil {
					return r.sendFailed(err)
				}
				r.observer.FragmentSent()
				if !r.pause(ctx) {
					return OutcomeFailed
				}
			}

			if frame.IsFinal {
				if err := t.Send(ctx, models.CompleteEvent(strings.TrimSpace(answer.String()))); err != nil {
					return OutcomeDisconnected
				}
				return OutcomeComplete
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if pending := lines.Pending(); len(pending) > 0 {
					r.logger.Debug("Discarded unterminated backend line", slog.Int("bytes", len(pending)))
				}
				r.logger.Warn("Backend stream ended without a final frame")
				return OutcomeEOF
			}
			r.logger.Error("Failed to read backend stream", slog.String(errLoggerKey, readErr.Error()))
			return OutcomeFailed
		}
	}
}

func (r Reframer) sendFailed(err error) string {
	if errors.Is(err, ErrConsumerGone) {
		r.logger.Info("Client disconnected, stopping stream")
		return OutcomeDisconnected
	}
	r.logger.Warn("Stream cancelled", slog.String(errLoggerKey, err.Error()))
	return OutcomeFailed
}

// pause waits for the pacing delay. It reports false if ctx ended first. A detached consumer is not
// checked here; the next Send reports it.
func (r Reframer) pause(ctx context.Context) bool {
	if r.pacing < 0 {
		return true
	}
	timer := time.NewTimer(r.pacing)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		r.logger.Warn("Stream cancelled", slog.String(errLoggerKey, ctx.Err().Error()))
		return false
	}
}
