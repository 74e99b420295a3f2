// Package claude streams model output from the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vbonduro/schema2tf/internal/inference"
	"github.com/vbonduro/schema2tf/internal/prompt"
)

type Backend struct {
	client anthropic.Client
	model  string
}

// New returns a backend authenticated with apiKey. When model is non-empty it
// replaces whatever model id the caller asks for. A non-empty baseURL points
// the client at a different API host.
func New(apiKey, model, baseURL string) *Backend {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Backend{client: anthropic.NewClient(opts...), model: model}
}

func (b *Backend) Name() string { return "claude" }

func (b *Backend) ConverseStream(ctx context.Context, req *inference.Request) (inference.Stream, error) {
	params, err := b.buildParams(req)
	if err != nil {
		return nil, err
	}

	s := &stream{events: b.client.Messages.NewStreaming(ctx, params)}
	// The HTTP status is only known once the first event is read.
	if !s.events.Next() {
		err := s.events.Err()
		closeWithLog(s.events)
		if err == nil {
			return inference.NewStaticStream(), nil
		}
		return nil, classify(err)
	}
	s.primed = true
	return s, nil
}

func (b *Backend) buildParams(req *inference.Request) (anthropic.MessageNewParams, error) {
	model := req.ModelID
	if b.model != "" {
		model = b.model
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for i, m := range req.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, blk := range m.Content {
			if blk.IsImage() {
				mediaType, err := mediaType(blk.Image.Format)
				if err != nil {
					return anthropic.MessageNewParams{}, fmt.Errorf("message %d: %w", i, err)
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(blk.Image.Bytes)))
				continue
			}
			blocks = append(blocks, anthropic.NewTextBlock(blk.Text))
		}
		if m.Role == prompt.RoleUser {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(req.Config.MaxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(req.Config.Temperature),
	}
	// Newer models reject temperature and top_p together; 1 is the API default.
	if p := req.Config.TopP; p > 0 && p < 1 {
		params.TopP = anthropic.Float(p)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params, nil
}

func mediaType(format string) (string, error) {
	switch format {
	case prompt.ImageFormatPNG, "jpeg", "gif", "webp":
		return "image/" + format, nil
	default:
		return "", &inference.Error{Kind: inference.KindValidation, Message: fmt.Sprintf("unsupported image format %q", format)}
	}
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &inference.Error{
			Kind:    inference.KindFromStatus(apiErr.StatusCode),
			Code:    strconv.Itoa(apiErr.StatusCode),
			Message: apiErr.Error(),
			Err:     err,
		}
	}
	return inference.Classify(err)
}

// eventSource is satisfied by the SDK's SSE stream.
type eventSource interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type stream struct {
	events eventSource
	msg    anthropic.Message
	primed bool
	done   bool
}

// Recv yields text deltas as they arrive and a single Metadata record once
// the service ends the stream. The Messages API reports no latency, so
// Metrics is left unset.
func (s *stream) Recv() (inference.Event, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		if s.primed {
			s.primed = false
		} else if !s.events.Next() {
			s.done = true
			if err := s.events.Err(); err != nil {
				return nil, classify(err)
			}
			return s.metadata(), nil
		}

		ev := s.events.Current()
		if err := s.msg.Accumulate(ev); err != nil {
			s.done = true
			return nil, fmt.Errorf("failed to accumulate claude event: %w", err)
		}
		if d, ok := ev.AsAny().(anthropic.ContentBlockDeltaEvent); ok && d.Delta.Type == "text_delta" {
			return inference.ContentDelta{Text: d.Delta.Text}, nil
		}
	}
}

func (s *stream) metadata() inference.Metadata {
	in := int(s.msg.Usage.InputTokens)
	out := int(s.msg.Usage.OutputTokens)
	return inference.Metadata{Usage: &inference.Usage{
		InputTokens:  inference.Int(in),
		OutputTokens: inference.Int(out),
		TotalTokens:  inference.Int(in + out),
	}}
}

func (s *stream) Close() error {
	return s.events.Close()
}

func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("failed to close claude stream", "error", err)
	}
}
