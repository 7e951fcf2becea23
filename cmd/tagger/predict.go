package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/tagger"
)

func newPredictCmd() *cobra.Command {
	var (
		input  string
		text   string
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Tag a corpus or a piece of text",
		Long: "Tag sentences read from a one-token-per-line file (--input, '-' for stdin) " +
			"or from raw text (--text). Dictionary overrides are applied.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if format != "tsv" && format != "json" {
				return errors.New("--format must be 'tsv' or 'json'")
			}

			svc, err := tagger.NewService(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer svc.Close()

			sentences, err := readSentences(cmd.InOrStdin(), svc, input, text)
			if err != nil {
				return err
			}

			tags, err := svc.Engine().Predict(cmd.Context(), sentences, 0)
			if err != nil {
				return err
			}

			return withOutput(cmd.OutOrStdout(), output, func(w io.Writer) error {
				if format == "json" {
					return json.NewEncoder(w).Encode(struct {
						Tokens [][]string `json:"tokens"`
						Tags   [][]string `json:"tags"`
					}{sentences, tags})
				}

				for i := range sentences {
					if err := tagger.WritePrediction(w, sentences[i], tags[i], nil); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Corpus file, one token per line, blank line between sentences ('-' for stdin)")
	cmd.Flags().StringVar(&text, "text", "", "Raw text to split and tag, one sentence per line")
	cmd.Flags().StringVar(&output, "output", "", "Write predictions to this file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "tsv", "Output format: tsv|json")

	return cmd
}

// readSentences loads tokens from a corpus file or splits raw text.
func readSentences(stdin io.Reader, svc *tagger.Service, input, text string) ([][]string, error) {
	switch {
	case input != "" && text != "":
		return nil, errors.New("use either --input or --text, not both")
	case text != "":
		return svc.Split(text)
	case input == "":
		return nil, errors.New("--input or --text is required")
	}

	samples, err := readCorpus(stdin, input)
	if err != nil {
		return nil, err
	}

	out := make([][]string, len(samples))
	for i, s := range samples {
		out[i] = s.Tokens
	}
	return out, nil
}

func readCorpus(stdin io.Reader, path string) ([]dataset.Sample, error) {
	if path == "-" {
		return dataset.ReadTSV(stdin)
	}
	return dataset.ReadTSVFile(path)
}

// withOutput runs fn against path, or stdout when path is empty.
func withOutput(stdout io.Writer, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
