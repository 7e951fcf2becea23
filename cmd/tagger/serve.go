package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Serve POST /tag and GET|PUT /dictionary over HTTP",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			slog.Info("serve",
				slog.String("model_dir", cfg.Paths.ModelDir),
				slog.String("backend", cfg.Tagger.Backend),
				slog.Bool("crf", cfg.Tagger.CRF),
			)

			// Start returns once the context from main is cancelled by a signal.
			return server.New(cfg, nil).WithLogger(slog.Default()).Start(cmd.Context())
		},
	}
}
