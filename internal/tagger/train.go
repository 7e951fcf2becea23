package tagger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/model"
)

// TagsFile holds the tag vocabulary inside a checkpoint directory.
const TagsFile = "tags.json"

// ErrNotTrainable is returned when the engine's model cannot be fitted or
// checkpointed.
var ErrNotTrainable = errors.New("tagger: model does not support training")

// Trainer runs the epoch loop with early stopping on dev accuracy.
type Trainer struct {
	Engine    *Engine
	Epochs    int
	Patience  int
	Optimizer Optimizer
	SaveDir   string
	Logger    *slog.Logger
}

type EpochReport struct {
	Epoch     int
	TrainLoss float64
	DevLoss   float64
	DevScore  float64
	Saved     bool
	// SinceBest counts epochs since the last improvement.
	SinceBest int
	EarlyStop bool
	Elapsed   time.Duration
}

type History struct {
	BestEpoch int
	BestScore float64
	Epochs    []EpochReport
}

// Fit trains on trn and keeps the weights scoring best on dev. The best
// checkpoint is written to SaveDir whenever dev accuracy improves and
// reloaded at the end if a later epoch was worse.
func (t *Trainer) Fit(ctx context.Context, trn, dev []*dataset.Batch) (History, error) {
	if t.Engine == nil || t.Optimizer == nil {
		return History{}, errors.New("tagger: trainer needs an engine and an optimizer")
	}

	if t.SaveDir == "" {
		return History{}, errors.New("tagger: trainer needs a save directory")
	}

	fitter, ok := t.Engine.model.(model.Fitter)
	if !ok {
		return History{}, ErrNotTrainable
	}

	ckpt, ok := t.Engine.model.(model.Checkpointer)
	if !ok {
		return History{}, ErrNotTrainable
	}

	logger := t.Logger
	if logger == nil {
		logger = t.Engine.logger
	}

	criterion, err := t.Engine.BuildCriterion()
	if err != nil {
		return History{}, err
	}

	history := History{BestScore: -1}
	start := time.Now()
	epoch := 0

	for epoch = 1; epoch <= t.Epochs; epoch++ {
		logger.Info("epoch", "epoch", epoch, "of", t.Epochs)

		began := time.Now()

		trainLoss, err := t.fitEpoch(ctx, fitter, criterion, trn)
		if err != nil {
			return history, err
		}

		devLoss, acc, err := t.Engine.Evaluate(ctx, dev, criterion, nil)
		if err != nil {
			return history, err
		}

		report := EpochReport{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			DevLoss:   devLoss,
			DevScore:  acc.Score(),
			Elapsed:   time.Since(began),
		}

		if report.DevScore > history.BestScore {
			history.BestEpoch, history.BestScore = epoch, report.DevScore
			if err := t.save(ckpt, epoch, report.DevScore); err != nil {
				return history, err
			}

			report.Saved = true
		} else {
			report.SinceBest = epoch - history.BestEpoch
			report.EarlyStop = report.SinceBest >= t.Patience
		}

		history.Epochs = append(history.Epochs, report)
		logger.Info("epoch done",
			"epoch", epoch,
			"train_loss", report.TrainLoss,
			"dev_loss", report.DevLoss,
			"dev", acc.String(),
			"saved", report.Saved,
			"since_best", report.SinceBest,
			"early_stop", report.EarlyStop,
			"elapsed", report.Elapsed.Round(time.Millisecond))

		if report.EarlyStop {
			break
		}
	}

	last := min(epoch, t.Epochs)

	switch {
	case history.BestEpoch == 0:
		if err := t.save(ckpt, last, 0); err != nil {
			return history, err
		}
	case history.BestEpoch != last:
		if err := ckpt.Load(t.SaveDir); err != nil {
			return history, fmt.Errorf("tagger: reload best weights: %w", err)
		}
	}

	logger.Info("training finished",
		"best_score", history.BestScore,
		"best_epoch", history.BestEpoch,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return history, nil
}

func (t *Trainer) fitEpoch(ctx context.Context, fitter model.Fitter, criterion Criterion, trn []*dataset.Batch) (float64, error) {
	var total float64

	head := t.Engine.CRF()

	for _, batch := range trn {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		emissions, mask, err := t.Engine.model.FeedBatch(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("tagger: feed batch: %w", err)
		}

		loss, err := t.Engine.ComputeLoss(criterion, emissions, batch.TagIDs, mask)
		if err != nil {
			return 0, fmt.Errorf("tagger: loss: %w", err)
		}

		total += loss

		pred, err := t.Engine.DecodeOutput(emissions, mask)
		if err != nil {
			return 0, fmt.Errorf("tagger: decode: %w", err)
		}

		lr := t.Optimizer.Step()
		if err := fitter.FitBatch(ctx, batch, pred, lr); err != nil {
			return 0, err
		}

		if head != nil {
			for b, n := range batch.Lengths() {
				head.Perceptron(batch.TagIDs[b][:n], pred[b][:n], lr)
			}
		}
	}

	if len(trn) == 0 {
		return 0, nil
	}

	return total / float64(len(trn)), nil
}

func (t *Trainer) save(ckpt model.Checkpointer, epoch int, score float64) error {
	if err := ckpt.Save(t.SaveDir); err != nil {
		return err
	}

	if err := t.Engine.tags.Save(filepath.Join(t.SaveDir, TagsFile)); err != nil {
		return err
	}

	files, err := checkpointFiles(t.SaveDir)
	if err != nil {
		return err
	}

	return model.WriteManifest(t.SaveDir, model.Manifest{Epoch: epoch, Score: score}, files...)
}

func checkpointFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tagger: list checkpoint: %w", err)
	}

	var files []string

	for _, e := range entries {
		if e.Type().IsRegular() && e.Name() != model.ManifestFile {
			files = append(files, e.Name())
		}
	}

	sort.Strings(files)

	return files, nil
}
