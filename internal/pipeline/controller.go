// Package pipeline drives the describe, convert and update stages over a
// session's state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vbonduro/schema2tf/internal/inference"
	"github.com/vbonduro/schema2tf/internal/metrics"
	"github.com/vbonduro/schema2tf/internal/prompt"
)

var (
	ErrNoImage       = errors.New("no schema image uploaded")
	ErrNotRequested  = errors.New("conversion has not been requested")
	ErrNoDescription = errors.New("no schema description to generate from")
	ErrNoStack       = errors.New("no terraform stack generated yet")
)

// ImageCaption labels the uploaded diagram wherever it is shown.
const ImageCaption = "Uploaded Schema"

// Sink receives progressively rendered output. Show replaces whatever the
// sink displayed for the current stage.
type Sink interface {
	Show(text string)
	ShowImage(data []byte, caption string)
}

// StageSink is implemented by sinks that render each stage separately.
type StageSink interface {
	Sink
	BeginStage(stage prompt.Stage)
}

// invoker is the subset of inference.Gateway the controller requires.
type invoker interface {
	Invoke(ctx context.Context, modelID string, messages []prompt.Message, systemPrompt string, temperature float64) (inference.Stream, error)
}

// catalog is the subset of prompt.Catalog the controller requires.
type catalog interface {
	SystemPrompt(stage prompt.Stage) (string, error)
	Examples() ([]string, error)
}

// temperature is used for every stage.
const temperature = 0

type Controller struct {
	gateway invoker
	catalog catalog
	modelID string
	logger  *slog.Logger
}

func NewController(gateway invoker, catalog catalog, modelID string, logger *slog.Logger) *Controller {
	return &Controller{
		gateway: gateway,
		catalog: catalog,
		modelID: modelID,
		logger:  logger,
	}
}

// Convert runs describe then generate. It only starts when the user asked for
// a conversion or a description already exists; otherwise it returns
// ErrNotRequested without touching the sink.
func (c *Controller) Convert(ctx context.Context, st *State, sink Sink, requested bool) error {
	if len(st.Image) == 0 {
		return ErrNoImage
	}
	if !requested && !st.HasDescription() {
		return ErrNotRequested
	}

	sink.ShowImage(st.Image, ImageCaption)
	if err := c.Describe(ctx, st, sink); err != nil {
		return err
	}
	return c.Generate(ctx, st, sink)
}

// Describe asks the model to describe the uploaded image. A stored
// description is shown instead of calling the model again.
func (c *Controller) Describe(ctx context.Context, st *State, sink Sink) error {
	if len(st.Image) == 0 {
		return ErrNoImage
	}
	beginStage(sink, prompt.StageDescribe)
	if st.HasDescription() {
		c.cached(st, prompt.StageDescribe)
		sink.Show(st.Description())
		return nil
	}

	text, err := c.run(ctx, st, prompt.StageDescribe, prompt.BuildDescribe(st.Image), sink)
	if err != nil {
		return err
	}
	st.SchemaDescription = &text
	return nil
}

// Generate turns the stored description into a Terraform stack. A stored
// stack is shown instead of calling the model again.
func (c *Controller) Generate(ctx context.Context, st *State, sink Sink) error {
	if !st.HasDescription() {
		return ErrNoDescription
	}
	beginStage(sink, prompt.StageConvert)
	if st.HasStack() {
		c.cached(st, prompt.StageConvert)
		sink.Show(st.Stack())
		return nil
	}

	examples, err := c.catalog.Examples()
	if err != nil {
		metrics.IncStageRun(string(prompt.StageConvert), "error")
		return fmt.Errorf("failed to load examples: %w", err)
	}
	text, err := c.run(ctx, st, prompt.StageConvert, prompt.BuildConvert(st.Description(), examples), sink)
	if err != nil {
		return err
	}
	st.GeneratedStack = &text
	return nil
}

// Update applies a free-form change request to the stored stack and replaces
// it with the model's answer.
func (c *Controller) Update(ctx context.Context, st *State, sink Sink, request string) error {
	if !st.HasStack() {
		return ErrNoStack
	}
	beginStage(sink, prompt.StageUpdate)

	text, err := c.run(ctx, st, prompt.StageUpdate, prompt.BuildUpdate(st.Stack(), request), sink)
	if err != nil {
		return err
	}
	st.GeneratedStack = &text
	return nil
}

// Render shows the stored results without calling the model.
func (c *Controller) Render(st *State, sink Sink) {
	if len(st.Image) > 0 {
		sink.ShowImage(st.Image, ImageCaption)
	}
	if st.HasDescription() {
		beginStage(sink, prompt.StageDescribe)
		sink.Show(st.Description())
	}
	if st.HasStack() {
		beginStage(sink, prompt.StageConvert)
		sink.Show(st.Stack())
	}
}

// run performs one model round trip. The state is only touched on success,
// by appending a report; storing the text is left to the caller.
func (c *Controller) run(ctx context.Context, st *State, stage prompt.Stage, msgs []prompt.Message, sink Sink) (string, error) {
	log := c.logger.With("session_id", st.ID, "stage", stage)

	system, err := c.catalog.SystemPrompt(stage)
	if err != nil {
		metrics.IncStageRun(string(stage), "error")
		return "", fmt.Errorf("failed to load %s prompt: %w", stage, err)
	}

	log.Info("stage started")
	start := time.Now()

	stream, err := c.gateway.Invoke(ctx, c.modelID, msgs, system, temperature)
	if err != nil {
		metrics.IncStageRun(string(stage), "error")
		log.Error("stage failed", "error", err)
		return "", fmt.Errorf("%s stage: %w", stage, err)
	}
	defer closeWithLog(log, stream)

	res, err := inference.Accumulate(stream, sink.Show)
	if err != nil {
		metrics.IncStageRun(string(stage), "error")
		log.Error("stage stream failed", "error", err, "partial_chars", len(res.Text))
		return "", fmt.Errorf("%s stage: %w", stage, err)
	}

	report := Report{
		Stage:        stage,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		TotalTokens:  res.TotalTokens,
		LatencyMs:    res.LatencyMs,
		Duration:     time.Since(start),
	}
	st.Reports = append(st.Reports, report)
	record(report)

	log.Info("stage complete",
		"chars", len(res.Text),
		"input_tokens", optional(res.InputTokens),
		"output_tokens", optional(res.OutputTokens),
		"total_tokens", optional(res.TotalTokens),
		"latency_ms", optional(res.LatencyMs),
		"duration", report.Duration,
	)
	return res.Text, nil
}

func (c *Controller) cached(st *State, stage prompt.Stage) {
	metrics.IncStageRun(string(stage), "cached")
	c.logger.Debug("stage skipped, showing stored result", "session_id", st.ID, "stage", stage)
}

func record(r Report) {
	stage := string(r.Stage)
	metrics.IncStageRun(stage, "ok")
	metrics.ObserveStageDuration(stage, r.Duration)
	if r.InputTokens != nil {
		metrics.AddStageTokens(stage, "input", *r.InputTokens)
	}
	if r.OutputTokens != nil {
		metrics.AddStageTokens(stage, "output", *r.OutputTokens)
	}
	if r.LatencyMs != nil {
		metrics.ObserveModelLatency(stage, *r.LatencyMs)
	}
}

func beginStage(sink Sink, stage prompt.Stage) {
	if ss, ok := sink.(StageSink); ok {
		ss.BeginStage(stage)
	}
}

// optional renders an unknown count as "unknown" in log lines.
func optional[T int | int64](v *T) any {
	if v == nil {
		return "unknown"
	}
	return *v
}

func closeWithLog(log *slog.Logger, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Error("failed to close stream", "error", err)
	}
}
