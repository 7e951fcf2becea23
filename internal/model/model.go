// Package model defines the emission model capability consumed by the tagger
// and provides a small trainable lookup model.
package model

import (
	"context"

	"github.com/example/go-tagger/internal/crf"
	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/runtime/tensor"
)

// Model scores every tag at every position of a batch.
type Model interface {
	// FeedBatch returns emissions shaped [batch, maxLen, numTags] and the
	// validity mask shaped [batch, maxLen].
	FeedBatch(ctx context.Context, batch *dataset.Batch) (*tensor.Tensor, [][]bool, error)
	NumTags() int
	// DataParallel reports whether the model splits work across parallel
	// workers. Such models cannot be combined with a CRF.
	DataParallel() bool
}

// CRFHead is implemented by models that carry CRF transition parameters.
type CRFHead interface {
	CRF() *crf.CRF
}

// Fitter is implemented by models that can learn from their own mistakes.
// pred holds the decoded ids for batch; positions beyond a row's length are
// treated as wrong.
type Fitter interface {
	FitBatch(ctx context.Context, batch *dataset.Batch, pred [][]int, lr float32) error
}

// Checkpointer persists weights to a directory and restores them in place.
type Checkpointer interface {
	Save(dir string) error
	Load(dir string) error
}
