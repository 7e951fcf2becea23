// Package crf implements a linear-chain conditional random field over
// per-token emission scores: masked log-likelihood for training and Viterbi
// decoding for prediction.
package crf

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/example/go-tagger/internal/runtime/tensor"
	"github.com/example/go-tagger/internal/safetensors"
)

const (
	TransitionsName = "crf.transitions"
	StartName       = "crf.start"
	EndName         = "crf.end"
)

var (
	// ErrShape is returned when emissions, tags and mask disagree.
	ErrShape = errors.New("crf: shape mismatch")
	// ErrMask is returned when a mask row is not a contiguous prefix of true
	// values.
	ErrMask = errors.New("crf: mask must be left-aligned")
)

// CRF holds transition scores. transitions[i][j] scores moving from tag i to
// tag j; start and end score the first and last tag of a sequence.
type CRF struct {
	numTags     int
	transitions *tensor.Tensor
	start       *tensor.Tensor
	end         *tensor.Tensor
}

// Path is the best tag sequence of one sample and its unnormalized score.
type Path struct {
	IDs   []int
	Score float64
}

// New returns a CRF with zero-initialized parameters.
func New(numTags int) (*CRF, error) {
	if numTags <= 0 {
		return nil, fmt.Errorf("crf: numTags must be > 0, got %d", numTags)
	}

	n := int64(numTags)
	trans, _ := tensor.Zeros([]int64{n, n})
	start, _ := tensor.Zeros([]int64{n})
	end, _ := tensor.Zeros([]int64{n})

	return &CRF{numTags: numTags, transitions: trans, start: start, end: end}, nil
}

// NumTags returns the tag count C.
func (c *CRF) NumTags() int { return c.numTags }

// Transitions returns the [C, C] transition tensor. Its data is shared.
func (c *CRF) Transitions() *tensor.Tensor { return c.transitions }

func (c *CRF) trans(from, to int) float64 {
	return float64(c.transitions.RawData()[from*c.numTags+to])
}

// SetTransition sets the score of moving from tag from to tag to.
func (c *CRF) SetTransition(from, to int, score float32) {
	c.transitions.RawData()[from*c.numTags+to] = score
}

// SetStart sets the score of starting a sequence with tag.
func (c *CRF) SetStart(tag int, score float32) { c.start.RawData()[tag] = score }

// SetEnd sets the score of ending a sequence with tag.
func (c *CRF) SetEnd(tag int, score float32) { c.end.RawData()[tag] = score }

// validLengths checks shapes and returns the number of true mask entries per
// sample.
func (c *CRF) validLengths(emissions *tensor.Tensor, mask [][]bool) ([]int, error) {
	if emissions == nil || emissions.Rank() != 3 {
		return nil, fmt.Errorf("%w: emissions must be [batch, length, tags], got %v", ErrShape, emissions.Shape())
	}

	batch, length, tags := emissions.Dim(0), emissions.Dim(1), emissions.Dim(2)
	if tags != c.numTags {
		return nil, fmt.Errorf("%w: emissions have %d tags, crf has %d", ErrShape, tags, c.numTags)
	}

	if len(mask) != batch {
		return nil, fmt.Errorf("%w: mask has %d rows, emissions batch is %d", ErrShape, len(mask), batch)
	}

	lengths := make([]int, batch)
	for b, row := range mask {
		if len(row) != length {
			return nil, fmt.Errorf("%w: mask row %d has %d positions, emissions length is %d", ErrShape, b, len(row), length)
		}

		n := 0
		for n < len(row) && row[n] {
			n++
		}

		for _, v := range row[n:] {
			if v {
				return nil, fmt.Errorf("%w: row %d", ErrMask, b)
			}
		}

		lengths[b] = n
	}

	return lengths, nil
}

// LogLikelihood returns the sum over the batch of log p(gold | emissions).
// Positions where mask is false contribute nothing, so padding a batch with
// masked-out positions leaves the result unchanged. Samples with no valid
// positions contribute zero.
func (c *CRF) LogLikelihood(emissions *tensor.Tensor, gold [][]int, mask [][]bool) (float64, error) {
	lengths, err := c.validLengths(emissions, mask)
	if err != nil {
		return 0, err
	}

	if len(gold) != len(lengths) {
		return 0, fmt.Errorf("%w: %d gold rows, batch is %d", ErrShape, len(gold), len(lengths))
	}

	var total float64

	for b, n := range lengths {
		if n == 0 {
			continue
		}

		if len(gold[b]) < n {
			return 0, fmt.Errorf("%w: gold row %d has %d tags, %d valid positions", ErrShape, b, len(gold[b]), n)
		}

		for i, id := range gold[b][:n] {
			if id < 0 || id >= c.numTags {
				return 0, fmt.Errorf("crf: gold tag %d at row %d position %d out of range", id, b, i)
			}
		}

		score, err := c.pathScore(emissions, b, gold[b][:n])
		if err != nil {
			return 0, err
		}

		logZ, err := c.logPartition(emissions, b, n)
		if err != nil {
			return 0, err
		}

		total += score - logZ
	}

	return total, nil
}

func (c *CRF) pathScore(emissions *tensor.Tensor, b int, path []int) (float64, error) {
	start := c.start.RawData()
	end := c.end.RawData()

	var score float64

	for i, tag := range path {
		em, err := emissions.Row(b, i)
		if err != nil {
			return 0, err
		}

		if i == 0 {
			score += float64(start[tag])
		} else {
			score += c.trans(path[i-1], tag)
		}

		score += float64(em[tag])
	}

	return score + float64(end[path[len(path)-1]]), nil
}

// logPartition runs the forward algorithm over the first n positions.
func (c *CRF) logPartition(emissions *tensor.Tensor, b, n int) (float64, error) {
	k := c.numTags
	start := c.start.RawData()
	end := c.end.RawData()

	em, err := emissions.Row(b, 0)
	if err != nil {
		return 0, err
	}

	alpha := make([]float64, k)
	for j := range k {
		alpha[j] = float64(start[j]) + float64(em[j])
	}

	next := make([]float64, k)
	scratch := make([]float64, k)

	for i := 1; i < n; i++ {
		em, err := emissions.Row(b, i)
		if err != nil {
			return 0, err
		}

		for j := range k {
			for p := range k {
				scratch[p] = alpha[p] + c.trans(p, j)
			}

			next[j] = logSumExp64(scratch) + float64(em[j])
		}

		alpha, next = next, alpha
	}

	for j := range k {
		alpha[j] += float64(end[j])
	}

	return logSumExp64(alpha), nil
}

// Decode returns the Viterbi path of every sample restricted to its valid
// positions. A sample with no valid positions yields an empty path.
func (c *CRF) Decode(emissions *tensor.Tensor, mask [][]bool) ([]Path, error) {
	lengths, err := c.validLengths(emissions, mask)
	if err != nil {
		return nil, err
	}

	out := make([]Path, len(lengths))
	for b, n := range lengths {
		p, err := c.viterbi(emissions, b, n)
		if err != nil {
			return nil, err
		}

		out[b] = p
	}

	return out, nil
}

func (c *CRF) viterbi(emissions *tensor.Tensor, b, n int) (Path, error) {
	if n == 0 {
		return Path{IDs: []int{}}, nil
	}

	k := c.numTags
	start := c.start.RawData()
	end := c.end.RawData()

	em, err := emissions.Row(b, 0)
	if err != nil {
		return Path{}, err
	}

	score := make([]float64, k)
	for j := range k {
		score[j] = float64(start[j]) + float64(em[j])
	}

	next := make([]float64, k)
	backpointers := make([][]int, n)

	for i := 1; i < n; i++ {
		em, err := emissions.Row(b, i)
		if err != nil {
			return Path{}, err
		}

		bp := make([]int, k)
		for j := range k {
			best, bestPrev := math.Inf(-1), 0

			for p := range k {
				if s := score[p] + c.trans(p, j); s > best {
					best, bestPrev = s, p
				}
			}

			next[j] = best + float64(em[j])
			bp[j] = bestPrev
		}

		backpointers[i] = bp
		score, next = next, score
	}

	bestEnd, bestScore := 0, math.Inf(-1)
	for j := range k {
		if s := score[j] + float64(end[j]); s > bestScore {
			bestEnd, bestScore = j, s
		}
	}

	ids := make([]int, n)
	ids[n-1] = bestEnd

	for i := n - 1; i > 0; i-- {
		ids[i-1] = backpointers[i][ids[i]]
	}

	return Path{IDs: ids, Score: bestScore}, nil
}

// Perceptron moves parameters towards the gold path and away from the
// predicted path by lr. Equal paths leave parameters unchanged.
func (c *CRF) Perceptron(gold, pred []int, lr float32) {
	if len(gold) == 0 || len(gold) != len(pred) || slices.Equal(gold, pred) {
		return
	}

	c.addPath(gold, lr)
	c.addPath(pred, -lr)
}

func (c *CRF) addPath(path []int, delta float32) {
	trans := c.transitions.RawData()

	c.start.RawData()[path[0]] += delta
	for i := 1; i < len(path); i++ {
		trans[path[i-1]*c.numTags+path[i]] += delta
	}

	c.end.RawData()[path[len(path)-1]] += delta
}

// Tensors returns the parameters in checkpoint form.
func (c *CRF) Tensors() []safetensors.Tensor {
	return []safetensors.Tensor{
		{Name: TransitionsName, Shape: c.transitions.Shape(), Data: c.transitions.Data()},
		{Name: StartName, Shape: c.start.Shape(), Data: c.start.Data()},
		{Name: EndName, Shape: c.end.Shape(), Data: c.end.Data()},
	}
}

// FromStore loads CRF parameters for numTags tags.
func FromStore(store *safetensors.Store, numTags int) (*CRF, error) {
	c, err := New(numTags)
	if err != nil {
		return nil, err
	}

	n := int64(numTags)
	for _, p := range []struct {
		name  string
		shape []int64
		dst   *tensor.Tensor
	}{
		{TransitionsName, []int64{n, n}, c.transitions},
		{StartName, []int64{n}, c.start},
		{EndName, []int64{n}, c.end},
	} {
		t, err := store.TensorWithShape(p.name, p.shape)
		if err != nil {
			return nil, fmt.Errorf("crf: load: %w", err)
		}

		copy(p.dst.RawData(), t.Data)
	}

	return c, nil
}

func logSumExp64(v []float64) float64 {
	maxV := math.Inf(-1)
	for _, x := range v {
		if x > maxV {
			maxV = x
		}
	}

	if math.IsInf(maxV, -1) {
		return maxV
	}

	var sum float64
	for _, x := range v {
		sum += math.Exp(x - maxV)
	}

	return maxV + math.Log(sum)
}
