package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/server"
)

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:     "health",
		Short:   "Probe a running tagger server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if addr == "" {
				addr = cfg.Server.ListenAddr
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			health, err := server.ProbeHTTP(ctx, addr)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s version=%s dictionary_entries=%d\n",
				health.Status, health.Version, health.DictionaryEntries)

			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server address (default server.listen_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Probe deadline")

	return cmd
}
