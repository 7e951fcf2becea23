package main

import "github.com/spf13/cobra"

// newModelCmd groups operations on a checkpoint directory as a whole.
func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Fetch and verify checkpoints",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(newModelDownloadCmd(), newModelVerifyCmd())

	return cmd
}
