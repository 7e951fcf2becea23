package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/model"
)

func newModelDownloadCmd() *cobra.Command {
	var (
		repo     string
		revision string
		baseURL  string
		hfToken  string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch a published checkpoint into the model directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if baseURL == "" {
				if repo == "" {
					return errors.New("either --repo or --base-url is required")
				}
				baseURL = model.HubURL(repo, revision)
			}

			if hfToken == "" {
				hfToken = os.Getenv("HF_TOKEN")
			}

			m, err := model.Download(cmd.Context(), model.DownloadOptions{
				BaseURL: baseURL,
				OutDir:  cfg.Paths.ModelDir,
				Token:   hfToken,
				Stdout:  cmd.OutOrStdout(),

				Concurrency: parallel,
			})
			if err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "checkpoint epoch %d score %.4f: %d files\n", m.Epoch, m.Score, len(m.Files))
			return err
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Hugging Face repository holding the checkpoint")
	cmd.Flags().StringVar(&revision, "revision", "main", "Repository revision")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Directory URL serving "+model.ManifestFile+" (overrides --repo)")
	cmd.Flags().StringVar(&hfToken, "hf-token", "", "Hugging Face token (defaults to HF_TOKEN)")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "Concurrent file transfers")

	return cmd
}
