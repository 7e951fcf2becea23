package tagger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/metric"
	"github.com/example/go-tagger/internal/model"
)

// Evaluate runs every batch in order and returns the mean per-batch loss and
// the accuracy over valid positions. When out is non-nil each sample is
// written as token, predicted and gold tag columns.
func (e *Engine) Evaluate(ctx context.Context, batches []*dataset.Batch, criterion Criterion, out io.Writer) (float64, *metric.Accuracy, error) {
	acc := &metric.Accuracy{}

	var loss float64

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}

		if !batch.Labelled() {
			return 0, nil, fmt.Errorf("tagger: evaluate batch %d: %w", i, model.ErrUnlabelled)
		}

		emissions, mask, err := e.model.FeedBatch(ctx, batch)
		if err != nil {
			return 0, nil, fmt.Errorf("tagger: feed batch: %w", err)
		}

		l, err := e.ComputeLoss(criterion, emissions, batch.TagIDs, mask)
		if err != nil {
			return 0, nil, fmt.Errorf("tagger: loss: %w", err)
		}

		loss += l

		pred, err := e.DecodeOutput(emissions, mask)
		if err != nil {
			return 0, nil, fmt.Errorf("tagger: decode: %w", err)
		}

		acc.Update(pred, batch.TagIDs, mask)

		if out != nil {
			if err := e.writeBatch(out, batch, pred); err != nil {
				return 0, nil, err
			}
		}

		e.logger.Debug("evaluated batch",
			"batch", i+1,
			"of", len(batches),
			"loss", loss/float64(i+1),
			"accuracy", acc.Score())
	}

	if len(batches) > 0 {
		loss /= float64(len(batches))
	}

	return loss, acc, nil
}

func (e *Engine) writeBatch(w io.Writer, batch *dataset.Batch, pred [][]int) error {
	lengths := batch.Lengths()

	predTags, err := e.tags.IDsToTags(pred, lengths)
	if err != nil {
		return err
	}

	goldTags, err := e.tags.IDsToTags(batch.TagIDs, lengths)
	if err != nil {
		return err
	}

	for i, s := range batch.Samples {
		if err := WritePrediction(w, s.Tokens, predTags[i], goldTags[i]); err != nil {
			return err
		}
	}

	return nil
}

// WritePrediction writes one sample as tab-separated token, predicted tag
// and gold tag lines followed by a blank line. gold may be nil.
func WritePrediction(w io.Writer, tokens, pred, gold []string) error {
	if len(pred) != len(tokens) || (gold != nil && len(gold) != len(tokens)) {
		return errors.New("tagger: write prediction: tokens and tags differ in length")
	}

	var sb strings.Builder

	for i, tok := range tokens {
		sb.WriteString(tok)
		sb.WriteByte('\t')
		sb.WriteString(pred[i])

		if gold != nil {
			sb.WriteByte('\t')
			sb.WriteString(gold[i])
		}

		sb.WriteByte('\n')
	}

	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())

	return err
}
