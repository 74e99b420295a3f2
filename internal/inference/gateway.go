package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/vbonduro/schema2tf/internal/metrics"
	"github.com/vbonduro/schema2tf/internal/prompt"
)

// Fixed generation settings sent with every request.
const (
	MaxTokens = 3000
	TopP      = 1.0
)

// Request is the backend-neutral form of a streaming inference call.
type Request struct {
	ModelID  string
	Messages []prompt.Message
	System   string
	Config   Config
}

type Config struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Backend speaks to one remote model service.
type Backend interface {
	Name() string
	ConverseStream(ctx context.Context, req *Request) (Stream, error)
}

// Gateway is the single entry point for model calls. It applies the fixed
// configuration, classifies backend failures and logs them.
type Gateway struct {
	backend Backend
	logger  *slog.Logger
}

func NewGateway(backend Backend, logger *slog.Logger) *Gateway {
	return &Gateway{backend: backend, logger: logger}
}

// Invoke starts a streaming call. On failure the returned error is always an
// *Error and the stream is nil; callers must not read from it.
func (g *Gateway) Invoke(ctx context.Context, modelID string, messages []prompt.Message, systemPrompt string, temperature float64) (Stream, error) {
	req := &Request{
		ModelID:  modelID,
		Messages: messages,
		System:   systemPrompt,
		Config: Config{
			MaxTokens:   MaxTokens,
			Temperature: temperature,
			TopP:        TopP,
		},
	}

	metrics.IncInferenceRequest(g.backend.Name(), modelID)
	g.logger.Debug("inference request", "backend", g.backend.Name(), "model", modelID, "messages", len(messages))

	stream, err := g.backend.ConverseStream(ctx, req)
	if err != nil {
		return nil, g.fail(err)
	}
	g.logger.Info("inference stream opened", "backend", g.backend.Name(), "model", modelID)
	return &classifiedStream{Stream: stream, gw: g}, nil
}

func (g *Gateway) fail(err error) *Error {
	ie := Classify(err)
	metrics.IncInferenceError(g.backend.Name(), string(ie.Kind))
	g.logger.Error("inference error", "backend", g.backend.Name(), "kind", ie.Kind, "code", ie.Code, "message", ie.Message)
	return ie
}

// classifiedStream routes mid-stream failures through the gateway so they are
// logged and typed the same way as failures to open the stream.
type classifiedStream struct {
	Stream
	gw *Gateway
}

func (s *classifiedStream) Recv() (Event, error) {
	ev, err := s.Stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, s.gw.fail(err)
	}
	return ev, err
}
