package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"

	"github.com/ollama/ollama/api"
)

const generatePath = "/api/generate"

// ErrBackendUnavailable is returned when the Ollama server cannot be reached at all.
var ErrBackendUnavailable = errors.New("backend unavailable")

// StatusError is returned when the Ollama server answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Ollama API error: %s", e.Status)
}

// ReplyError is returned when the Ollama server reports a failure inside a successful response, as
// {"error": "..."}.
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("Ollama API error: %s", e.Message)
}

// completeReply is the body of a non-streaming generate reply. A body only counts as a reply when both
// response and done are present.
type completeReply struct {
	Response *string `json:"response"`
	Done     *bool   `json:"done"`
	Error    string  `json:"error"`
}

// Ollama is the client of a local Ollama server. Every question is sent to the /api/generate endpoint
// prefixed with a fixed system preamble. It exposes the reply either as a complete answer or as the raw
// newline-delimited JSON byte stream, leaving the framing of that stream to the caller.
type Ollama struct {
	base         *url.URL
	model        string
	systemPrompt string

	http   *http.Client
	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL, model name and system preamble. It
// returns an error if the host is not a valid absolute URL.
func NewOllama(host, model, systemPrompt string) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: scheme and host are required", host)
	}

	hc := &http.Client{}
	return Ollama{
		base:         u,
		model:        model,
		systemPrompt: systemPrompt,
		http:         hc,
		client:       api.NewClient(u, hc),
	}, nil
}

// Model returns the model identifier sent with every request.
func (o Ollama) Model() string {
	return o.model
}

// Prompt composes the prompt sent to the model for the given question.
func (o Ollama) Prompt(question string) string {
	return o.systemPrompt + "\n\nQuestion: " + question
}

// FetchComplete sends a non-streaming request and returns the answer text. The body is expected to be a
// single generate reply carrying both response and done. Any other body is returned verbatim, except an
// in-band {"error": "..."}, which is reported as *ReplyError.
func (o Ollama) FetchComplete(ctx context.Context, question string) (string, error) {
	res, err := o.generate(ctx, question, false)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}

	var reply completeReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return string(body), nil
	}
	if reply.Error != "" {
		return "", &ReplyError{Message: reply.Error}
	}
	if reply.Response == nil || reply.Done == nil {
		return string(body), nil
	}
	return *reply.Response, nil
}

// OpenStream sends a streaming request and returns the live response body. The caller owns the body and
// must close it. A non-2xx status is reported as *StatusError before any of the body is read.
func (o Ollama) OpenStream(ctx context.Context, question string) (io.ReadCloser, error) {
	res, err := o.generate(ctx, question, true)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// Models lists the names of the models installed on the Ollama server.
func (o Ollama) Models(ctx context.Context) ([]string, error) {
	res, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	names := make([]string, 0, len(res.Models))
	for _, m := range res.Models {
		names = append(names, m.Name)
	}
	slices.Sort(names)
	return names, nil
}

// Heartbeat checks that the Ollama server is up.
func (o Ollama) Heartbeat(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return nil
}

func (o Ollama) generate(ctx context.Context, question string, stream bool) (*http.Response, error) {
	req := api.GenerateRequest{
		Model:  o.model,
		Prompt: o.Prompt(question),
		Stream: &stream,
	}
	bts, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error encoding request: %w", err)
	}

	reqURL := o.base.ResolveReference(&url.URL{Path: generatePath})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(bts))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "application/x-ndjson")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	res, err := o.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, &StatusError{Code: res.StatusCode, Status: res.Status}
	}
	return res, nil
}
