package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vbonduro/schema2tf/internal/display"
	"github.com/vbonduro/schema2tf/internal/pipeline"
	"github.com/vbonduro/schema2tf/internal/terraform"
)

type runOptions struct {
	image   string
	updates []string
	out     string
}

// newRunCmd converts one diagram without a browser. Progress streams to
// stderr; the final markdown summary goes to stdout.
func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Convert a diagram and apply updates from the command line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.image, "image", "", "PNG diagram to convert")
	flags.StringArrayVar(&opts.updates, "update", nil, "change request applied to the generated stack, in order (repeatable)")
	flags.StringVarP(&opts.out, "out", "o", "", "write the formatted stack to this file")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func (a *app) run(cmd *cobra.Command, opts runOptions) error {
	image, err := os.ReadFile(opts.image)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if mime := http.DetectContentType(image); mime != "image/png" {
		return fmt.Errorf("%s is %s, not a PNG", opts.image, mime)
	}

	ctrl, err := a.controller(cmd.Context())
	if err != nil {
		return err
	}

	st := pipeline.NewState(uuid.NewString(), image)
	term := display.NewTerminal(cmd.ErrOrStderr())
	defer term.Finish()

	if err := ctrl.Convert(cmd.Context(), st, term, true); err != nil {
		return err
	}
	for _, req := range opts.updates {
		if err := ctrl.Update(cmd.Context(), st, term, req); err != nil {
			return err
		}
	}

	if opts.out != "" {
		if err := os.WriteFile(opts.out, terraform.Format(terraform.ExtractHCL(st.Stack())), 0o644); err != nil {
			return fmt.Errorf("failed to write stack: %w", err)
		}
		a.logger.Info("stack written", "path", opts.out)
	}
	return writeSummary(cmd.OutOrStdout(), st)
}

// writeSummary styles the summary when w is a terminal.
func writeSummary(w io.Writer, st *pipeline.State) error {
	md := display.Summary(st)
	if f, ok := w.(*os.File); ok && display.IsTerminal(f) {
		md = display.RenderMarkdown(md)
	}
	_, err := io.WriteString(w, md)
	return err
}
