package dataset

import (
	"cmp"
	"errors"
	"math/rand/v2"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/example/go-tagger/internal/vocab"
)

// ErrBatchSize is returned for a non-positive batch size.
var ErrBatchSize = errors.New("dataset: batch size must be > 0")

// BucketByLength groups samples into chunks of at most batchSize, longest
// sentences first so each batch pads as little as possible. Samples of equal
// length keep their Index order.
func BucketByLength(samples []Sample, batchSize int) ([][]Sample, error) {
	if batchSize <= 0 {
		return nil, ErrBatchSize
	}

	h := heap.NewWith(func(x, y int) int {
		a, b := samples[x], samples[y]
		if c := cmp.Compare(len(b.Tokens), len(a.Tokens)); c != 0 {
			return c
		}

		return cmp.Compare(a.Index, b.Index)
	})

	for i := range samples {
		h.Push(i)
	}

	var (
		out [][]Sample
		cur []Sample
	)

	for !h.Empty() {
		i, _ := h.Pop()

		cur = append(cur, samples[i])
		if len(cur) == batchSize {
			out = append(out, cur)
			cur = nil
		}
	}

	if len(cur) > 0 {
		out = append(out, cur)
	}

	return out, nil
}

// Loader turns samples into batches.
type Loader struct {
	// Vocab converts gold tags to ids. Nil produces unlabelled batches.
	Vocab     *vocab.Vocabulary
	BatchSize int
	// Shuffle randomizes batch order with Seed. Bucketing is unaffected.
	Shuffle bool
	Seed    uint64
}

// Load buckets samples and builds padded batches.
func (l Loader) Load(samples []Sample) ([]*Batch, error) {
	groups, err := BucketByLength(samples, l.BatchSize)
	if err != nil {
		return nil, err
	}

	batches := make([]*Batch, 0, len(groups))
	for _, g := range groups {
		b, err := NewBatch(g, l.Vocab)
		if err != nil {
			return nil, err
		}

		batches = append(batches, b)
	}

	if l.Shuffle {
		rng := rand.New(rand.NewPCG(l.Seed, l.Seed^0x9e3779b97f4a7c15))
		rng.Shuffle(len(batches), func(i, j int) {
			batches[i], batches[j] = batches[j], batches[i]
		})
	}

	return batches, nil
}
