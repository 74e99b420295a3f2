// Package bedrock streams model output from the AWS Bedrock Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/vbonduro/schema2tf/internal/inference"
	"github.com/vbonduro/schema2tf/internal/prompt"
)

// converser is the subset of the Bedrock runtime client used here.
type converser interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

type Backend struct {
	client converser
}

// New loads the default AWS credential chain for region.
func New(ctx context.Context, region string) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &Backend{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (b *Backend) Name() string { return "bedrock" }

func (b *Backend) ConverseStream(ctx context.Context, req *inference.Request) (inference.Stream, error) {
	input, err := buildInput(req)
	if err != nil {
		return nil, err
	}
	out, err := b.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, classify(err)
	}
	return newStream(out.GetStream()), nil
}

func buildInput(req *inference.Request) (*bedrockruntime.ConverseStreamInput, error) {
	msgs := make([]types.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		content := make([]types.ContentBlock, 0, len(m.Content))
		for _, blk := range m.Content {
			if blk.IsImage() {
				format, err := imageFormat(blk.Image.Format)
				if err != nil {
					return nil, fmt.Errorf("message %d: %w", i, err)
				}
				content = append(content, &types.ContentBlockMemberImage{Value: types.ImageBlock{
					Format: format,
					Source: &types.ImageSourceMemberBytes{Value: blk.Image.Bytes},
				}})
				continue
			}
			content = append(content, &types.ContentBlockMemberText{Value: blk.Text})
		}
		msgs = append(msgs, types.Message{Role: types.ConversationRole(m.Role), Content: content})
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.ModelID),
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(req.Config.MaxTokens)),
			Temperature: aws.Float32(float32(req.Config.Temperature)),
			TopP:        aws.Float32(float32(req.Config.TopP)),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	return input, nil
}

func imageFormat(format string) (types.ImageFormat, error) {
	switch format {
	case prompt.ImageFormatPNG:
		return types.ImageFormatPng, nil
	case "jpeg":
		return types.ImageFormatJpeg, nil
	case "gif":
		return types.ImageFormatGif, nil
	case "webp":
		return types.ImageFormatWebp, nil
	default:
		return "", &inference.Error{Kind: inference.KindValidation, Message: fmt.Sprintf("unsupported image format %q", format)}
	}
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &inference.Error{
			Kind:    inference.KindFromCode(apiErr.ErrorCode()),
			Code:    apiErr.ErrorCode(),
			Message: apiErr.ErrorMessage(),
			Err:     err,
		}
	}
	return inference.Classify(err)
}

// eventReader is satisfied by *bedrockruntime.ConverseStreamEventStream.
type eventReader interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

type stream struct {
	events eventReader
}

func newStream(events eventReader) *stream {
	return &stream{events: events}
}

func (s *stream) Recv() (inference.Event, error) {
	for {
		out, ok := <-s.events.Events()
		if !ok {
			if err := s.events.Err(); err != nil {
				return nil, classify(err)
			}
			return nil, io.EOF
		}
		if ev := toEvent(out); ev != nil {
			return ev, nil
		}
	}
}

func (s *stream) Close() error {
	return s.events.Close()
}

// toEvent maps the Bedrock event union. Events that carry nothing the
// accumulator uses map to nil.
func toEvent(out types.ConverseStreamOutput) inference.Event {
	switch v := out.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return inference.ContentDelta{Text: d.Value}
		}
	case *types.ConverseStreamOutputMemberMetadata:
		md := inference.Metadata{}
		if u := v.Value.Usage; u != nil {
			md.Usage = &inference.Usage{
				InputTokens:  intPtr(u.InputTokens),
				OutputTokens: intPtr(u.OutputTokens),
				TotalTokens:  intPtr(u.TotalTokens),
			}
		}
		if m := v.Value.Metrics; m != nil && m.LatencyMs != nil {
			md.Metrics = &inference.Metrics{LatencyMs: inference.Int64(*m.LatencyMs)}
		}
		return md
	}
	return nil
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	return inference.Int(int(*v))
}
