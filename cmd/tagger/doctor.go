package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/config"
	"github.com/example/go-tagger/internal/doctor"
	"github.com/example/go-tagger/internal/model"
	"github.com/example/go-tagger/internal/onnx"
	"github.com/example/go-tagger/internal/safetensors"
	"github.com/example/go-tagger/internal/tagger"
	"github.com/example/go-tagger/internal/tokenizer"
	"github.com/example/go-tagger/internal/trie"
	"github.com/example/go-tagger/internal/vocab"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the runtime, checkpoint files and dictionary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			backend, err := config.NormalizeBackend(cfg.Tagger.Backend)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "backend: %s\n", backend)

			rep := doctor.Run(doctorConfig(cfg, backend), out)
			if rep.Failed() {
				for _, f := range rep.Failures() {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}
}

func doctorConfig(cfg config.Config, backend string) doctor.Config {
	dir := cfg.Paths.ModelDir

	dcfg := doctor.Config{
		Checks: []doctor.Check{{Name: "checkpoint checksums", Run: func() (string, error) {
			return checkpointChecksums(dir)
		}}},
		Files: []doctor.File{
			{Label: "tag vocabulary", Path: filepath.Join(dir, tagger.TagsFile), Validate: func(p string) error {
				_, err := vocab.Load(p)
				return err
			}},
			{Label: "token index", Path: filepath.Join(dir, model.TokensFile), Validate: func(p string) error {
				_, err := model.LoadTokenIndex(p)
				return err
			}},
		},
	}

	if backend == config.BackendONNX {
		dcfg.Runtime = func() (string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			return info.Version, err
		}
		dcfg.Files = append(dcfg.Files, doctor.File{Label: "onnx manifest", Path: cfg.Paths.ONNXModel, Validate: func(p string) error {
			b, err := onnx.LoadBundle(p)
			if err != nil {
				return err
			}

			g, ok := b.Graph(onnx.GraphName)
			if !ok {
				return fmt.Errorf("no %q graph", onnx.GraphName)
			}

			return g.Require([]string{onnx.InputIDs, onnx.InputMask}, []string{onnx.OutputEmissions})
		}})
	} else {
		dcfg.Files = append(dcfg.Files, doctor.File{Label: "lookup weights", Path: filepath.Join(dir, model.WeightsFile), Validate: func(p string) error {
			_, err := safetensors.OpenStore(p)
			return err
		}})
	}

	dcfg.Files = append(dcfg.Files,
		doctor.File{Label: "dictionary", Path: cfg.Paths.Dictionary, Optional: true, Validate: func(p string) error {
			_, err := trie.LoadFile(p)
			return err
		}},
		doctor.File{Label: "sentencepiece model", Path: cfg.Paths.SPMModel, Optional: true, Validate: func(p string) error {
			_, err := tokenizer.NewSentencePiece(p)
			return err
		}},
	)

	return dcfg
}

// checkpointChecksums verifies the manifest when one exists. Checkpoints
// copied by hand have none and pass.
func checkpointChecksums(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, model.ManifestFile)); err != nil {
		return "skipped (no " + model.ManifestFile + ")", nil
	}

	m, err := model.VerifyManifest(dir)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d files", len(m.Files)), nil
}
