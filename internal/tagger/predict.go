package tagger

import (
	"context"
	"fmt"

	"github.com/example/go-tagger/internal/dataset"
)

// Predict tags every sentence in input and returns the results in input
// order. Sentences are bucketed by length internally. An empty input
// returns without calling the model; an empty sentence yields an empty tag
// sequence. batchSize <= 0 uses the configured batch size.
func (e *Engine) Predict(ctx context.Context, input [][]string, batchSize int) ([][]string, error) {
	if len(input) == 0 {
		return [][]string{}, nil
	}

	if batchSize <= 0 {
		batchSize = e.opts.BatchSize
	}

	groups, err := dataset.BucketByLength(dataset.FromTokens(input), batchSize)
	if err != nil {
		return nil, err
	}

	// one dictionary for the whole call
	dict := e.dict.Load()
	out := make([][]string, len(input))

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := dataset.NewBatch(group, nil)
		if err != nil {
			return nil, err
		}

		emissions, mask, err := e.model.FeedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("tagger: feed batch: %w", err)
		}

		ids, err := e.DecodeOutput(emissions, mask)
		if err != nil {
			return nil, fmt.Errorf("tagger: decode: %w", err)
		}

		tags, err := e.tags.IDsToTags(ids, batch.Lengths())
		if err != nil {
			return nil, err
		}

		for i, s := range batch.Samples {
			if dict != nil {
				if _, err := dict.Apply(s.Tokens, tags[i]); err != nil {
					return nil, err
				}
			}

			out[s.Index] = tags[i]
		}
	}

	return out, nil
}

// PredictOne tags a single sentence.
func (e *Engine) PredictOne(ctx context.Context, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return []string{}, nil
	}

	out, err := e.Predict(ctx, [][]string{tokens}, 1)
	if err != nil {
		return nil, err
	}

	return out[0], nil
}

// TokensFromRecords extracts the token field named by the engine's token key
// from each record.
func (e *Engine) TokensFromRecords(records []map[string][]string) ([][]string, error) {
	out := make([][]string, len(records))

	for i, r := range records {
		tokens, ok := r[e.opts.TokenKey]
		if !ok {
			return nil, fmt.Errorf("tagger: record %d has no %q field", i, e.opts.TokenKey)
		}

		out[i] = tokens
	}

	return out, nil
}
