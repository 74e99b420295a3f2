package main

import (
	"github.com/spf13/cobra"

	"github.com/vbonduro/schema2tf/internal/session"
	"github.com/vbonduro/schema2tf/internal/web"
	"github.com/vbonduro/schema2tf/internal/web/templates"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.ListenAddr = addr
			}
			ctrl, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			server := web.NewServer(session.NewRegistry(), ctrl, templates.FS, a.cfg.MaxUploadBytes, a.logger)
			return server.ListenAndServe(a.cfg.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}
