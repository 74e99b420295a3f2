// Package lorem is an offline backend that streams placeholder text. It lets
// the pipeline and web UI run without model credentials.
package lorem

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"github.com/vbonduro/schema2tf/internal/inference"
)

type Backend struct {
	generator *loremgen.Lorem
	delay     time.Duration
}

// New returns a backend that pauses delay between words.
func New(delay time.Duration) *Backend {
	return &Backend{generator: loremgen.New(), delay: delay}
}

func (b *Backend) Name() string { return "lorem" }

// ConverseStream answers an image request with a prose description and any
// other request with a small fenced Terraform stack.
func (b *Backend) ConverseStream(ctx context.Context, req *inference.Request) (inference.Stream, error) {
	text := b.stack()
	if hasImage(req) {
		text = b.generator.Paragraph(3, 5)
	}
	return &stream{
		ctx:    ctx,
		words:  splitWords(text),
		input:  estimateTokens(req),
		delay:  b.delay,
		output: len(strings.Fields(text)),
	}, nil
}

func (b *Backend) stack() string {
	name := strings.ToLower(b.generator.Word(4, 8))
	return fmt.Sprintf("```hcl\n# %s\nresource \"aws_s3_bucket\" \"%s\" {\n  bucket = \"%s-%s\"\n}\n```\n",
		b.generator.Sentence(4, 8), name, name, strings.ToLower(b.generator.Word(4, 8)))
}

func hasImage(req *inference.Request) bool {
	for _, m := range req.Messages {
		for _, blk := range m.Content {
			if blk.IsImage() {
				return true
			}
		}
	}
	return false
}

// estimateTokens uses word count as a stand-in for tokens.
func estimateTokens(req *inference.Request) int {
	n := len(strings.Fields(req.System))
	for _, m := range req.Messages {
		for _, blk := range m.Content {
			n += len(strings.Fields(blk.Text))
		}
	}
	return n
}

// splitWords cuts text after each space or newline so the pieces concatenate
// back to text exactly.
func splitWords(text string) []string {
	var words []string
	start := 0
	for i, r := range text {
		if r == ' ' || r == '\n' {
			words = append(words, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		words = append(words, text[start:])
	}
	return words
}

type stream struct {
	ctx    context.Context
	words  []string
	pos    int
	input  int
	output int
	delay  time.Duration
	start  time.Time
	done   bool
}

func (s *stream) Recv() (inference.Event, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}
	if s.pos == len(s.words) {
		s.done = true
		return inference.Metadata{
			Usage: &inference.Usage{
				InputTokens:  inference.Int(s.input),
				OutputTokens: inference.Int(s.output),
				TotalTokens:  inference.Int(s.input + s.output),
			},
			Metrics: &inference.Metrics{LatencyMs: inference.Int64(time.Since(s.start).Milliseconds())},
		}, nil
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			s.done = true
			return nil, s.ctx.Err()
		}
	}
	w := s.words[s.pos]
	s.pos++
	return inference.ContentDelta{Text: w}, nil
}

func (s *stream) Close() error {
	s.done = true
	return nil
}
