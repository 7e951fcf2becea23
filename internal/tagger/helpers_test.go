package tagger

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/example/go-tagger/internal/crf"
	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/runtime/tensor"
	"github.com/example/go-tagger/internal/vocab"
)

var testTags = []string{"O", "NN", "NT", "PAD"}

const padTag = 3

// fakeModel scores the tag listed in prefer for known tokens and O for the
// rest. Padding positions favour PAD so that untruncated argmax is visible.
type fakeModel struct {
	prefer   map[string]int
	crf      *crf.CRF
	parallel bool

	mu      sync.Mutex
	calls   int
	batches [][][]string
}

func newFakeModel() *fakeModel {
	return &fakeModel{prefer: map[string]int{
		"HanLP": 1,
		"为":     0,
		"生产":    1,
		"z":     1,
		"y":     2,
		"a":     1,
	}}
}

func (m *fakeModel) NumTags() int       { return len(testTags) }
func (m *fakeModel) DataParallel() bool { return m.parallel }
func (m *fakeModel) CRF() *crf.CRF      { return m.crf }

func (m *fakeModel) FeedBatch(_ context.Context, batch *dataset.Batch) (*tensor.Tensor, [][]bool, error) {
	m.mu.Lock()
	m.calls++
	m.batches = append(m.batches, batch.Tokens)
	m.mu.Unlock()

	c := len(testTags)
	b, t := batch.Len(), batch.MaxLen
	data := make([]float32, b*t*c)

	for i := range b {
		for j := range t {
			row := data[(i*t+j)*c:][:c]
			if j >= len(batch.Tokens[i]) {
				row[padTag] = 10
				continue
			}

			row[m.prefer[batch.Tokens[i][j]]] = 5
		}
	}

	emissions, err := tensor.New(data, []int64{int64(b), int64(t), int64(c)})
	if err != nil {
		return nil, nil, err
	}

	return emissions, batch.Mask, nil
}

func testVocab() *vocab.Vocabulary {
	return vocab.Build(testTags)
}

func newTestEngine(t *testing.T, m *fakeModel, opts Options) *Engine {
	t.Helper()

	e, err := New(m, testVocab(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return e
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Abs(b))
}
