package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vbonduro/schema2tf/internal/config"
	"github.com/vbonduro/schema2tf/internal/inference"
	"github.com/vbonduro/schema2tf/internal/inference/bedrock"
	"github.com/vbonduro/schema2tf/internal/inference/claude"
	"github.com/vbonduro/schema2tf/internal/inference/lorem"
	"github.com/vbonduro/schema2tf/internal/inference/ollama"
	"github.com/vbonduro/schema2tf/internal/logging"
	"github.com/vbonduro/schema2tf/internal/pipeline"
	"github.com/vbonduro/schema2tf/internal/prompt"
)

// loremDelay paces the offline backend so its output looks streamed.
var loremDelay = 20 * time.Millisecond

// app holds what every subcommand needs once flags are parsed.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// close releases the log file opened for the run. It is safe to call when
// flag parsing failed before a logger was created.
func (a *app) close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	var backend, model, promptsDir, logLevel, logFormat string

	root := &cobra.Command{
		Use:          "schema2tf",
		Short:        "Convert AWS architecture diagrams into Terraform stacks",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			flags := cmd.Flags()
			if flags.Changed("backend") {
				cfg.InferenceBackend = backend
			}
			if flags.Changed("model") {
				cfg.ModelID = model
			}
			if flags.Changed("prompts-dir") {
				cfg.PromptsDir = promptsDir
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg, a.logger, a.cleanup = cfg, logger, cleanup
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&backend, "backend", "", "inference backend: bedrock, claude, ollama or lorem (overrides INFERENCE_BACKEND)")
	pf.StringVar(&model, "model", "", "model id sent with every request (overrides MODEL_ID)")
	pf.StringVar(&promptsDir, "prompts-dir", "", "directory overriding the built-in prompts and examples (overrides PROMPTS_DIR)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	pf.StringVar(&logFormat, "log-format", "", "json or text (overrides LOG_FORMAT)")

	root.AddCommand(newServeCmd(a), newRunCmd(a))
	return root
}

// controller wires the configured backend and prompts into a pipeline.
func (a *app) controller(ctx context.Context) (*pipeline.Controller, error) {
	backend, err := newBackend(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	catalog, err := prompt.NewCatalog(a.cfg.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	a.logger.Info("using inference backend", "backend", backend.Name(), "model", a.cfg.ModelID)
	return pipeline.NewController(inference.NewGateway(backend, a.logger), catalog, a.cfg.ModelID, a.logger), nil
}

func newBackend(ctx context.Context, cfg *config.Config) (inference.Backend, error) {
	switch cfg.InferenceBackend {
	case config.BackendClaude:
		return claude.New(cfg.ClaudeAPIKey, cfg.ClaudeModel, ""), nil
	case config.BackendOllama:
		return ollama.New(cfg.OllamaHost, cfg.OllamaModel), nil
	case config.BackendLorem:
		return lorem.New(loremDelay), nil
	case config.BackendBedrock:
		b, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock client: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.InferenceBackend)
	}
}
