package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MegaGrindStone/ollama-relay/internal/metrics"
	"github.com/MegaGrindStone/ollama-relay/internal/stream"
	"github.com/google/uuid"
	"github.com/rs/cors"
)

// Backend represents the inference server the relay forwards questions to. It answers a question either
// in one piece or as a raw newline-delimited JSON stream, and lists the models it can serve.
type Backend interface {
	stream.Opener

	FetchComplete(ctx context.Context, question string) (string, error)
	Models(ctx context.Context) ([]string, error)
}

// Options configure Main. Zero values select the defaults of the stream package.
type Options struct {
	// Service is the name reported by the health endpoint.
	Service string

	Capacity   int
	Pacing     time.Duration
	ReadBuffer int

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Main serves the relay's HTTP API: health, one-shot answers, streamed answers, the backend's model
// list and metrics.
type Main struct {
	backend Backend
	service string

	capacity   int
	pacing     time.Duration
	readBuffer int

	logger  *slog.Logger
	metrics *metrics.Collector

	// ctx outlives requests; stream producers run on it so Shutdown can stop them.
	ctx       context.Context
	cancel    context.CancelFunc
	producers *producers
}

// producers tracks the stream goroutines in flight. Once closed, no new one may start, so Add never
// races with Wait.
type producers struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

const (
	errLoggerKey = "error"

	endpointHealth = "health"
	endpointAsk    = "ask"
	endpointStream = "stream"
	endpointModels = "models"

	maxQuestionBytes = 1 << 20
)

// NewMain creates a new Main instance serving questions through backend.
func NewMain(backend Backend, opts Options) (Main, error) {
	if opts.Capacity == 0 {
		opts.Capacity = stream.DefaultCapacity
	}
	// Fail at startup rather than on the first stream.
	if _, err := stream.NewTransport(opts.Capacity); err != nil {
		return Main{}, err
	}
	if opts.Service == "" {
		opts.Service = "ollama-relay"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return Main{
		backend:    backend,
		service:    opts.Service,
		capacity:   opts.Capacity,
		pacing:     opts.Pacing,
		readBuffer: opts.ReadBuffer,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		ctx:        ctx,
		cancel:     cancel,
		producers:  &producers{},
	}, nil
}

// Routes returns the relay's HTTP handler with permissive CORS applied: any origin, GET and POST, any
// headers.
func (m Main) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.HandleHealth)
	mux.HandleFunc("/ask", m.HandleAsk)
	mux.HandleFunc("/stream", m.HandleStream)
	mux.HandleFunc("/models", m.HandleModels)
	mux.Handle("/metrics", m.metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// Shutdown refuses new streams, stops every stream still in flight and waits for their producers to exit,
// or for ctx to end. It may be called more than once.
func (m Main) Shutdown(ctx context.Context) error {
	m.producers.close()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.producers.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start runs fn in a new goroutine unless the set is closed. It reports whether fn was started.
func (p *producers) start(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
	return true
}

func (p *producers) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// requestLogger tags the request with a fresh id, returned to the client in X-Request-Id.
func (m Main) requestLogger(w http.ResponseWriter) *slog.Logger {
	id := uuid.New().String()
	w.Header().Set("X-Request-Id", id)
	return m.logger.With(slog.String("requestID", id))
}

func (m Main) fail(w http.ResponseWriter, endpoint string, code int, msg string) {
	m.metrics.RecordRequest(endpoint, code)
	http.Error(w, msg, code)
}

func (m Main) writeJSON(w http.ResponseWriter, endpoint string, code int, v any) {
	m.metrics.RecordRequest(endpoint, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to encode response",
			slog.String("endpoint", endpoint),
			slog.String(errLoggerKey, err.Error()))
	}
}
