package main

import (
	"github.com/spf13/cobra"

	"github.com/moodremix/api/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			srv, err := app.NewServer(cfg)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queued tasks (asynq backend)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return app.RunWorker(cmd.Context(), cfg)
		},
	}
}
