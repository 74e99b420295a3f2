// Package ollama streams model output from a local Ollama server's chat API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/vbonduro/schema2tf/internal/inference"
)

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type options struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  options       `json:"options"`
}

// chatChunk is one line of the NDJSON response. The final line has Done set
// and carries the counters.
type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	PromptEvalCount *int   `json:"prompt_eval_count"`
	EvalCount       *int   `json:"eval_count"`
	TotalDuration   *int64 `json:"total_duration"`
}

type Backend struct {
	host   string
	model  string
	client *http.Client
}

// New returns a backend for the server at host. When model is non-empty it
// replaces whatever model id the caller asks for.
func New(host, model string) *Backend {
	return &Backend{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{},
	}
}

func (b *Backend) Name() string { return "ollama" }

func (b *Backend) ConverseStream(ctx context.Context, req *inference.Request) (inference.Stream, error) {
	payload, err := json.Marshal(b.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, inference.Classify(fmt.Errorf("failed to call ollama: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		closeWithLog(resp.Body)
		return nil, &inference.Error{
			Kind:    inference.KindFromStatus(resp.StatusCode),
			Code:    strconv.Itoa(resp.StatusCode),
			Message: strings.TrimSpace(string(errBody)),
		}
	}

	return &stream{body: resp.Body, scanner: newScanner(resp.Body)}, nil
}

// buildRequest flattens each message's text blocks into one content string
// and moves its images to the images field, which is how the chat API takes
// multimodal input.
func (b *Backend) buildRequest(req *inference.Request) chatRequest {
	model := req.ModelID
	if b.model != "" {
		model = b.model
	}

	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		var (
			text   strings.Builder
			images []string
		)
		for _, blk := range m.Content {
			if blk.IsImage() {
				images = append(images, base64.StdEncoding.EncodeToString(blk.Image.Bytes))
				continue
			}
			text.WriteString(blk.Text)
		}
		msgs = append(msgs, chatMessage{Role: m.Role, Content: text.String(), Images: images})
	}

	return chatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   true,
		Options: options{
			Temperature: req.Config.Temperature,
			TopP:        req.Config.TopP,
			NumPredict:  req.Config.MaxTokens,
		},
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return s
}

type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *stream) Recv() (inference.Event, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return nil, inference.Classify(fmt.Errorf("read ollama stream: %w", err))
			}
			return nil, io.EOF
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.done = true
			return nil, fmt.Errorf("failed to decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			s.done = true
			return nil, &inference.Error{Kind: inference.KindUnavailable, Message: chunk.Error}
		}
		if chunk.Done {
			s.done = true
			return chunk.metadata(), nil
		}
		if chunk.Message.Content != "" {
			return inference.ContentDelta{Text: chunk.Message.Content}, nil
		}
	}
}

func (c chatChunk) metadata() inference.Metadata {
	md := inference.Metadata{Usage: &inference.Usage{
		InputTokens:  c.PromptEvalCount,
		OutputTokens: c.EvalCount,
	}}
	if c.PromptEvalCount != nil && c.EvalCount != nil {
		md.Usage.TotalTokens = inference.Int(*c.PromptEvalCount + *c.EvalCount)
	}
	if c.TotalDuration != nil {
		md.Metrics = &inference.Metrics{LatencyMs: inference.Int64(*c.TotalDuration / 1_000_000)}
	}
	return md
}

func (s *stream) Close() error {
	s.done = true
	return s.body.Close()
}

func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("failed to close ollama response body", "error", err)
	}
}
