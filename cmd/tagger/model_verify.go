package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/config"
	"github.com/example/go-tagger/internal/model"
	"github.com/example/go-tagger/internal/onnx"
	"github.com/example/go-tagger/internal/tagger"
	"github.com/example/go-tagger/internal/vocab"
)

func newModelVerifyCmd() *cobra.Command {
	var ortAPIVersion uint32

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check checkpoint checksums and smoke-run ONNX graphs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			backend, err := config.NormalizeBackend(cfg.Tagger.Backend)
			if err != nil {
				return err
			}

			if err := verifyCheckpoint(cmd.OutOrStdout(), cfg.Paths.ModelDir); err != nil {
				return fmt.Errorf("model verify failed: %w", err)
			}

			if backend != config.BackendONNX {
				return nil
			}

			return verifyONNX(cmd, cfg, ortAPIVersion)
		},
	}

	cmd.Flags().Uint32Var(&ortAPIVersion, "ort-api-version", onnx.DefaultAPIVersion, "ONNX Runtime C API version expected by the purego binding")

	return cmd
}

// verifyCheckpoint recomputes the checksums recorded for dir. A directory
// without a checkpoint manifest is reported and skipped.
func verifyCheckpoint(w io.Writer, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, model.ManifestFile)); errors.Is(err, os.ErrNotExist) {
		_, err := fmt.Fprintf(w, "checkpoint %s: no %s, skipped\n", dir, model.ManifestFile)
		return err
	}

	m, err := model.VerifyManifest(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(w, "  ✓ %s %s\n", name, m.Files[name].SHA256[:12]); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(w, "checkpoint %s: epoch %d, score %.4f, %d files ok\n", dir, m.Epoch, m.Score, len(m.Files))
	return err
}

func verifyONNX(cmd *cobra.Command, cfg config.Config, ortAPIVersion uint32) error {
	if cfg.Paths.ONNXModel == "" {
		return errors.New("paths.onnx_model is required for the onnx backend")
	}

	info, err := onnx.Bootstrap(cfg.Runtime)
	if err != nil {
		return err
	}

	var numTags int
	if tags, err := vocab.Load(filepath.Join(cfg.Paths.ModelDir, tagger.TagsFile)); err == nil {
		numTags = tags.Len()
	}

	err = onnx.Verify(cmd.Context(), onnx.VerifyOptions{
		ManifestPath: cfg.Paths.ONNXModel,
		NumTags:      numTags,
		Runner:       onnx.RunnerConfig{LibraryPath: info.LibraryPath, APIVersion: ortAPIVersion},
		Stdout:       cmd.OutOrStdout(),
		Stderr:       cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("model verify failed: %w", err)
	}

	return nil
}
