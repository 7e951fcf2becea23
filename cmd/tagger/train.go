package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/config"
	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/model"
	"github.com/example/go-tagger/internal/safetensors"
	"github.com/example/go-tagger/internal/tagger"
	"github.com/example/go-tagger/internal/vocab"
)

func newTrainCmd() *cobra.Command {
	var (
		trainPath string
		devPath   string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a lookup model and save the best checkpoint to paths.model_dir",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if trainPath == "" || devPath == "" {
				return errors.New("--train and --dev are required")
			}

			backend, err := config.NormalizeBackend(cfg.Tagger.Backend)
			if err != nil {
				return err
			}
			if backend != config.BackendLookup {
				return fmt.Errorf("training needs the %s backend, got %s", config.BackendLookup, backend)
			}

			trn, err := dataset.ReadTSVFile(trainPath)
			if err != nil {
				return err
			}

			dev, err := dataset.ReadTSVFile(devPath)
			if err != nil {
				return err
			}

			history, err := runTraining(cmd, cfg, trn, dev)
			if err != nil {
				return err
			}

			writeHistoryTable(cmd.OutOrStdout(), history)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "best epoch %d, dev accuracy %.2f%%, saved to %s\n",
				history.BestEpoch, history.BestScore*100, cfg.Paths.ModelDir)
			return err
		},
	}

	cmd.Flags().StringVar(&trainPath, "train", "", "Tagged training corpus")
	cmd.Flags().StringVar(&devPath, "dev", "", "Tagged development corpus used for early stopping")

	return cmd
}

func runTraining(cmd *cobra.Command, cfg config.Config, trn, dev []dataset.Sample) (tagger.History, error) {
	if len(trn) == 0 {
		return tagger.History{}, errors.New("training corpus is empty")
	}

	tags := vocab.Build(dataset.CollectTags(append(append([]dataset.Sample(nil), trn...), dev...)))

	sentences := make([][]string, len(trn))
	for i, s := range trn {
		sentences[i] = s.Tokens
	}

	tokens := model.NewTokenIndex(model.CollectTokens(sentences))

	m, err := model.NewLookup(tokens, tags.Len(), model.LookupConfig{
		Dim:   cfg.Train.EmbeddingDim,
		Seed:  cfg.Train.Seed,
		CRF:   cfg.Tagger.CRF,
		DType: safetensors.DType(cfg.Train.SaveDType),
	})
	if err != nil {
		return tagger.History{}, err
	}

	svc, err := tagger.NewServiceWithModel(cfg, m, tags, slog.Default())
	if err != nil {
		return tagger.History{}, err
	}
	defer svc.Close()

	engine := svc.Engine()

	trnBatches, err := dataset.Loader{Vocab: tags, BatchSize: engine.BatchSize(), Shuffle: true, Seed: cfg.Train.Seed}.Load(trn)
	if err != nil {
		return tagger.History{}, err
	}

	devBatches, err := dataset.Loader{Vocab: tags, BatchSize: engine.BatchSize()}.Load(dev)
	if err != nil {
		return tagger.History{}, err
	}

	opt, err := tagger.BuildOptimizer(cfg.Train.Optimizer, cfg.Train.LR)
	if err != nil {
		return tagger.History{}, err
	}

	if err := os.MkdirAll(cfg.Paths.ModelDir, 0o755); err != nil {
		return tagger.History{}, fmt.Errorf("create model dir: %w", err)
	}

	trainer := &tagger.Trainer{
		Engine:    engine,
		Epochs:    cfg.Train.Epochs,
		Patience:  cfg.Train.Patience,
		Optimizer: opt,
		SaveDir:   cfg.Paths.ModelDir,
		Logger:    slog.Default(),
	}

	return trainer.Fit(cmd.Context(), trnBatches, devBatches)
}

func writeHistoryTable(w io.Writer, h tagger.History) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"EPOCH", "TRAIN LOSS", "DEV LOSS", "DEV ACC", "SAVED", "ELAPSED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, e := range h.Epochs {
		saved := ""
		if e.Saved {
			saved = "yes"
		}

		table.Append([]string{
			strconv.Itoa(e.Epoch),
			strconv.FormatFloat(e.TrainLoss, 'f', 4, 64),
			strconv.FormatFloat(e.DevLoss, 'f', 4, 64),
			strconv.FormatFloat(e.DevScore*100, 'f', 2, 64) + "%",
			saved,
			e.Elapsed.Round(time.Millisecond).String(),
		})
	}

	table.Render()
}
