package crf

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/example/go-tagger/internal/runtime/tensor"
	"github.com/example/go-tagger/internal/safetensors"
)

func newTestCRF(t *testing.T) *CRF {
	t.Helper()

	c, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	trans := [][]float32{
		{0.5, -1.0, 0.2},
		{0.1, 0.3, -0.4},
		{-0.7, 0.6, 0.0},
	}
	for i, row := range trans {
		for j, v := range row {
			c.SetTransition(i, j, v)
		}
	}

	for i, v := range []float32{0.2, -0.1, 0.4} {
		c.SetStart(i, v)
	}

	for i, v := range []float32{-0.3, 0.5, 0.1} {
		c.SetEnd(i, v)
	}

	return c
}

func mustTensor(t *testing.T, data []float32, shape []int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	return x
}

// allPaths enumerates every tag sequence of length n over k tags.
func allPaths(n, k int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}

	var out [][]int
	for _, prefix := range allPaths(n-1, k) {
		for tag := range k {
			out = append(out, append(append([]int(nil), prefix...), tag))
		}
	}

	return out
}

func TestLogLikelihoodNormalizes(t *testing.T) {
	c := newTestCRF(t)
	em := mustTensor(t, []float32{
		1.0, 0.2, -0.5,
		0.3, 0.9, 0.1,
		-0.2, 0.4, 1.1,
	}, []int64{1, 3, 3})
	mask := [][]bool{{true, true, true}}

	var total float64

	for _, path := range allPaths(3, 3) {
		llh, err := c.LogLikelihood(em, [][]int{path}, mask)
		if err != nil {
			t.Fatalf("LogLikelihood(%v): %v", path, err)
		}

		if llh > 0 {
			t.Fatalf("LogLikelihood(%v) = %v; want <= 0", path, llh)
		}

		total += math.Exp(llh)
	}

	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("sum of path probabilities = %v; want 1", total)
	}
}

func TestLogLikelihoodIgnoresMaskedPositions(t *testing.T) {
	c := newTestCRF(t)

	padded := mustTensor(t, []float32{
		1.0, 0.2, -0.5,
		0.3, 0.9, 0.1,
		9.0, -9.0, 5.0,
		-4.0, 7.0, 3.0,
	}, []int64{1, 4, 3})

	truncated, err := padded.Narrow(1, 0, 2)
	if err != nil {
		t.Fatalf("Narrow: %v", err)
	}

	got, err := c.LogLikelihood(padded, [][]int{{0, 1, 2, 2}}, [][]bool{{true, true, false, false}})
	if err != nil {
		t.Fatalf("LogLikelihood(padded): %v", err)
	}

	want, err := c.LogLikelihood(truncated, [][]int{{0, 1}}, [][]bool{{true, true}})
	if err != nil {
		t.Fatalf("LogLikelihood(truncated): %v", err)
	}

	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("padded llh = %v; truncated llh = %v", got, want)
	}
}

func TestLogLikelihoodSumsBatch(t *testing.T) {
	c := newTestCRF(t)
	em := mustTensor(t, []float32{
		1.0, 0.2, -0.5,
		0.3, 0.9, 0.1,
		0.0, 0.5, 0.2,
		0.0, 0.0, 0.0,
	}, []int64{2, 2, 3})

	a, err := c.LogLikelihood(em, [][]int{{0, 1}, {2, 0}}, [][]bool{{true, true}, {true, false}})
	if err != nil {
		t.Fatalf("LogLikelihood: %v", err)
	}

	first, _ := em.Narrow(0, 0, 1)
	second, _ := em.Narrow(0, 1, 1)

	b1, err := c.LogLikelihood(first, [][]int{{0, 1}}, [][]bool{{true, true}})
	if err != nil {
		t.Fatalf("LogLikelihood(first): %v", err)
	}

	b2, err := c.LogLikelihood(second, [][]int{{2, 0}}, [][]bool{{true, false}})
	if err != nil {
		t.Fatalf("LogLikelihood(second): %v", err)
	}

	if math.Abs(a-(b1+b2)) > 1e-12 {
		t.Fatalf("batch llh = %v; want %v", a, b1+b2)
	}
}

func TestLogLikelihoodErrors(t *testing.T) {
	c := newTestCRF(t)
	em := mustTensor(t, make([]float32, 6), []int64{1, 2, 3})

	tests := []struct {
		name string
		em   *tensor.Tensor
		gold [][]int
		mask [][]bool
		want error
	}{
		{"rank", mustTensor(t, make([]float32, 6), []int64{2, 3}), [][]int{{0, 0}}, [][]bool{{true, true}}, ErrShape},
		{"tag count", mustTensor(t, make([]float32, 4), []int64{1, 2, 2}), [][]int{{0, 0}}, [][]bool{{true, true}}, ErrShape},
		{"mask rows", em, [][]int{{0, 0}}, nil, ErrShape},
		{"mask width", em, [][]int{{0, 0}}, [][]bool{{true}}, ErrShape},
		{"gold rows", em, nil, [][]bool{{true, true}}, ErrShape},
		{"short gold", em, [][]int{{0}}, [][]bool{{true, true}}, ErrShape},
		{"hole in mask", em, [][]int{{0, 0}}, [][]bool{{false, true}}, ErrMask},
		{"tag out of range", em, [][]int{{0, 3}}, [][]bool{{true, true}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.LogLikelihood(tt.em, tt.gold, tt.mask)
			if err == nil {
				t.Fatal("expected error")
			}

			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("error = %v; want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeMatchesBruteForce(t *testing.T) {
	c := newTestCRF(t)
	em := mustTensor(t, []float32{
		1.0, 0.2, -0.5,
		0.3, 0.9, 0.1,
		-0.2, 0.4, 1.1,
		0.0, 0.0, 0.0,
	}, []int64{1, 4, 3})
	mask := [][]bool{{true, true, true, false}}

	paths, err := c.Decode(em, mask)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(paths) != 1 || len(paths[0].IDs) != 3 {
		t.Fatalf("Decode = %+v; want one path of length 3", paths)
	}

	best, bestScore := []int(nil), math.Inf(-1)

	for _, path := range allPaths(3, 3) {
		s, err := c.pathScore(em, 0, path)
		if err != nil {
			t.Fatalf("pathScore: %v", err)
		}

		if s > bestScore {
			best, bestScore = path, s
		}
	}

	for i := range best {
		if paths[0].IDs[i] != best[i] {
			t.Fatalf("Decode path = %v; want %v", paths[0].IDs, best)
		}
	}

	if math.Abs(paths[0].Score-bestScore) > 1e-9 {
		t.Fatalf("Decode score = %v; want %v", paths[0].Score, bestScore)
	}
}

func TestDecodePathLengths(t *testing.T) {
	c := newTestCRF(t)
	em := mustTensor(t, make([]float32, 3*4*3), []int64{3, 4, 3})
	mask := [][]bool{
		{true, true, true, true},
		{true, false, false, false},
		{false, false, false, false},
	}

	paths, err := c.Decode(em, mask)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for i, want := range []int{4, 1, 0} {
		if got := len(paths[i].IDs); got != want {
			t.Fatalf("len(paths[%d]) = %d; want %d", i, got, want)
		}
	}

	if paths[2].IDs == nil {
		t.Fatal("empty row decoded to nil path; want empty slice")
	}
}

func TestPerceptronMovesTowardsGold(t *testing.T) {
	c := newTestCRF(t)
	em := mustTensor(t, make([]float32, 6), []int64{1, 2, 3})
	gold := []int{1, 2}

	for range 20 {
		paths, err := c.Decode(em, [][]bool{{true, true}})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}

		c.Perceptron(gold, paths[0].IDs, 0.5)
	}

	paths, err := c.Decode(em, [][]bool{{true, true}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if paths[0].IDs[0] != 1 || paths[0].IDs[1] != 2 {
		t.Fatalf("after training path = %v; want %v", paths[0].IDs, gold)
	}

	before := c.Transitions().Data()
	c.Perceptron(gold, gold, 1)

	after := c.Transitions().Data()
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("perceptron update with gold == pred changed transitions")
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := newTestCRF(t)
	path := filepath.Join(t.TempDir(), "crf.safetensors")

	if err := safetensors.WriteFile(path, c.Tensors(), nil, safetensors.F32); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := safetensors.OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	loaded, err := FromStore(store, 3)
	if err != nil {
		t.Fatalf("FromStore: %v", err)
	}

	em := mustTensor(t, []float32{1, 0, 0, 0, 1, 0}, []int64{1, 2, 3})
	mask := [][]bool{{true, true}}

	want, _ := c.LogLikelihood(em, [][]int{{0, 1}}, mask)

	got, err := loaded.LogLikelihood(em, [][]int{{0, 1}}, mask)
	if err != nil {
		t.Fatalf("LogLikelihood: %v", err)
	}

	if got != want {
		t.Fatalf("loaded llh = %v; want %v", got, want)
	}

	if _, err := FromStore(store, 4); err == nil {
		t.Fatal("expected shape error for wrong tag count")
	}
}

func TestNewRejectsZeroTags(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error")
	}
}
