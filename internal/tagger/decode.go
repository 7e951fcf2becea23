package tagger

import (
	"fmt"

	"github.com/example/go-tagger/internal/crf"
	"github.com/example/go-tagger/internal/runtime/tensor"
)

// Criterion scores emissions against gold tag ids. Lower is better.
type Criterion interface {
	Loss(emissions *tensor.Tensor, gold [][]int, mask [][]bool) (float64, error)
}

// decoder is the loss/decode strategy chosen once in New.
type decoder interface {
	criterion(reduction string) Criterion
	decode(emissions *tensor.Tensor, mask [][]bool) ([][]int, error)
}

type crfDecoder struct {
	crf *crf.CRF
}

func (d crfDecoder) criterion(string) Criterion { return crfCriterion{crf: d.crf} }

// decode returns one path per sample holding exactly its valid positions.
func (d crfDecoder) decode(emissions *tensor.Tensor, mask [][]bool) ([][]int, error) {
	paths, err := d.crf.Decode(emissions, mask)
	if err != nil {
		return nil, err
	}

	out := make([][]int, len(paths))
	for i, p := range paths {
		out[i] = p.IDs
	}

	return out, nil
}

type softmaxDecoder struct{}

func (softmaxDecoder) criterion(reduction string) Criterion {
	return CrossEntropy{Reduction: reduction}
}

// decode takes the argmax at every position, padding included.
func (softmaxDecoder) decode(emissions *tensor.Tensor, _ [][]bool) ([][]int, error) {
	if emissions.Rank() != 3 {
		return nil, fmt.Errorf("tagger: emissions must be rank 3, got shape %v", emissions.Shape())
	}

	flat, err := tensor.Argmax(emissions)
	if err != nil {
		return nil, err
	}

	b, t := emissions.Dim(0), emissions.Dim(1)
	out := make([][]int, b)

	for i := range b {
		out[i] = flat[i*t : (i+1)*t : (i+1)*t]
	}

	return out, nil
}

type crfCriterion struct {
	crf *crf.CRF
}

// Loss is the negated CRF log-likelihood summed over the batch.
func (c crfCriterion) Loss(emissions *tensor.Tensor, gold [][]int, mask [][]bool) (float64, error) {
	llh, err := c.crf.LogLikelihood(emissions, gold, mask)
	if err != nil {
		return 0, err
	}

	return -llh, nil
}

// CrossEntropy is the softmax cross-entropy over masked-in positions only.
// Padding counts towards neither the sum nor the mean's denominator.
type CrossEntropy struct {
	Reduction string
}

func (c CrossEntropy) Loss(emissions *tensor.Tensor, gold [][]int, mask [][]bool) (float64, error) {
	if emissions.Rank() != 3 {
		return 0, fmt.Errorf("tagger: emissions must be rank 3, got shape %v", emissions.Shape())
	}

	numTags := emissions.Dim(2)

	var (
		total float64
		count int
	)

	for b, row := range mask {
		for i, valid := range row {
			if !valid {
				continue
			}

			if b >= len(gold) || i >= len(gold[b]) {
				return 0, fmt.Errorf("tagger: no gold tag at [%d,%d]", b, i)
			}

			g := gold[b][i]
			if g < 0 || g >= numTags {
				return 0, fmt.Errorf("tagger: gold id %d out of range [0,%d)", g, numTags)
			}

			scores, err := emissions.Row(b, i)
			if err != nil {
				return 0, err
			}

			total += tensor.LogSumExp(scores) - float64(scores[g])
			count++
		}
	}

	if c.Reduction == ReductionSum || count == 0 {
		return total, nil
	}

	return total / float64(count), nil
}

// BuildCriterion returns the CRF criterion when the engine decodes with a
// CRF, otherwise cross-entropy with the configured reduction.
func (e *Engine) BuildCriterion() (Criterion, error) {
	if e.opts.UseCRF && e.opts.DataParallel {
		return nil, ErrDataParallelCRF
	}

	return e.strategy.criterion(e.opts.Reduction), nil
}

// ComputeLoss evaluates criterion on one batch. Masked-out positions never
// contribute.
func (e *Engine) ComputeLoss(criterion Criterion, emissions *tensor.Tensor, gold [][]int, mask [][]bool) (float64, error) {
	if criterion == nil {
		return 0, fmt.Errorf("tagger: nil criterion")
	}

	return criterion.Loss(emissions, gold, mask)
}

// DecodeOutput returns predicted tag ids per sample. With a CRF each row
// holds exactly the valid positions, otherwise every position including
// padding; callers truncate with the batch lengths.
func (e *Engine) DecodeOutput(emissions *tensor.Tensor, mask [][]bool) ([][]int, error) {
	return e.strategy.decode(emissions, mask)
}
