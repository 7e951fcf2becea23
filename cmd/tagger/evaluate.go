package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/metric"
	"github.com/example/go-tagger/internal/tagger"
	"github.com/example/go-tagger/internal/vocab"
)

func newEvaluateCmd() *cobra.Command {
	var (
		data   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the model on a tagged corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if data == "" {
				return fmt.Errorf("--data is required")
			}

			svc, err := tagger.NewService(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer svc.Close()

			engine := svc.Engine()

			samples, err := readCorpus(cmd.InOrStdin(), data)
			if err != nil {
				return err
			}

			batches, err := dataset.Loader{Vocab: engine.Tags(), BatchSize: engine.BatchSize()}.Load(samples)
			if err != nil {
				return err
			}

			criterion, err := engine.BuildCriterion()
			if err != nil {
				return err
			}

			var (
				loss float64
				acc  *metric.Accuracy
			)

			evaluate := func(w io.Writer) (err error) {
				loss, acc, err = engine.Evaluate(cmd.Context(), batches, criterion, w)
				return err
			}

			if output != "" {
				err = withOutput(nil, output, evaluate)
			} else {
				err = evaluate(nil)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(w, "loss: %.4f %s\n", loss, acc); err != nil {
				return err
			}

			writeAccuracyTable(w, acc, engine.Tags())
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "Tagged corpus, token and tag per line ('-' for stdin)")
	cmd.Flags().StringVar(&output, "output", "", "Write token, predicted and gold columns to this file")

	return cmd
}

func writeAccuracyTable(w io.Writer, acc *metric.Accuracy, tags *vocab.Vocabulary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TAG", "CORRECT", "TOTAL", "ACCURACY"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, row := range acc.PerTag() {
		name, err := tags.Tag(row.ID)
		if err != nil {
			name = strconv.Itoa(row.ID)
		}

		table.Append([]string{
			name,
			strconv.Itoa(row.Count.Correct),
			strconv.Itoa(row.Count.Total),
			strconv.FormatFloat(row.Count.Score()*100, 'f', 2, 64) + "%",
		})
	}

	table.Render()
}
