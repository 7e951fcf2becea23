package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/bench"
	"github.com/example/go-tagger/internal/tagger"
)

func newBenchCmd() *cobra.Command {
	var (
		input         string
		text          string
		runs          int
		format        string
		minThroughput float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark tagging latency and throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return errors.New("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
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

			results, err := bench.Run(cmd.Context(), svc.Engine(), sentences, runs, cfg.Tagger.BatchSize)
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.Durations(results))

			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckThroughput(bench.MeanThroughput(results), minThroughput)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Corpus file to tag on each run ('-' for stdin)")
	cmd.Flags().StringVar(&text, "text", "", "Raw text to tag on each run")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&minThroughput, "min-throughput", 0, "Exit non-zero if mean tokens/s falls below this value (0 = disabled)")

	return cmd
}
