package tensor

import (
	"errors"
	"fmt"
	"math"
)

// LogSoftmax applies a numerically stable log-softmax over the last
// dimension.
func LogSoftmax(x *Tensor) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("tensor: log-softmax on nil tensor")
	}

	if x.Rank() == 0 {
		return nil, errors.New("tensor: log-softmax requires rank >= 1")
	}

	axis := int(x.shape[len(x.shape)-1])
	if axis <= 0 {
		return nil, fmt.Errorf("tensor: log-softmax axis dimension must be > 0, got %d", axis)
	}

	out := x.Clone()
	for start := 0; start < len(out.data); start += axis {
		LogSoftmaxInPlace(out.data[start : start+axis])
	}

	return out, nil
}

// LogSoftmaxInPlace replaces v with its log-softmax.
func LogSoftmaxInPlace(v []float32) {
	lse := LogSumExp(v)
	for i := range v {
		v[i] = float32(float64(v[i]) - lse)
	}
}

// LogSumExp returns log(sum(exp(v))) computed in float64.
func LogSumExp(v []float32) float64 {
	if len(v) == 0 {
		return math.Inf(-1)
	}

	maxV := math.Inf(-1)
	for _, x := range v {
		if float64(x) > maxV {
			maxV = float64(x)
		}
	}

	if math.IsInf(maxV, -1) {
		return maxV
	}

	var sum float64
	for _, x := range v {
		sum += math.Exp(float64(x) - maxV)
	}

	return maxV + math.Log(sum)
}

// Argmax returns the index of the largest value along the last dimension for
// every leading coordinate, shaped like x without its last dimension and
// flattened row-major. Ties resolve to the lowest index.
func Argmax(x *Tensor) ([]int, error) {
	if x == nil {
		return nil, errors.New("tensor: argmax on nil tensor")
	}

	if x.Rank() == 0 {
		return nil, errors.New("tensor: argmax requires rank >= 1")
	}

	axis := int(x.shape[len(x.shape)-1])
	if axis <= 0 {
		return nil, fmt.Errorf("tensor: argmax axis dimension must be > 0, got %d", axis)
	}

	out := make([]int, len(x.data)/axis)
	for r := range out {
		out[r] = argmaxF32(x.data[r*axis : (r+1)*axis])
	}

	return out, nil
}

func argmaxF32(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}

	return best
}

// Linear applies y = x * W^T + b where weight shape is [out, in]. Rows of x
// are split across the configured worker count.
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	if x == nil || weight == nil {
		return nil, errors.New("tensor: linear requires non-nil x and weight")
	}

	if x.Rank() < 1 {
		return nil, errors.New("tensor: linear requires x rank >= 1")
	}

	if weight.Rank() != 2 {
		return nil, fmt.Errorf("tensor: linear weight must be rank 2, got %d", weight.Rank())
	}

	in := x.shape[x.Rank()-1]

	out := weight.shape[0]
	if weight.shape[1] != in {
		return nil, fmt.Errorf("tensor: linear mismatch: x last dim %d, weight in dim %d", in, weight.shape[1])
	}

	if bias != nil {
		if bias.Rank() != 1 || bias.shape[0] != out {
			return nil, fmt.Errorf("tensor: linear bias shape %v does not match out dim %d", bias.shape, out)
		}
	}

	inI := int(in)
	outI := int(out)

	rows := 1
	for _, d := range x.shape[:x.Rank()-1] {
		rows *= int(d)
	}

	outData := make([]float32, rows*outI)
	wData := weight.data

	forRows(rows, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			xSlice := x.data[r*inI : r*inI+inI]
			yBase := r * outI

			for o := range outI {
				var sum float32
				for i, w := range wData[o*inI : (o+1)*inI] {
					sum += xSlice[i] * w
				}

				if bias != nil {
					sum += bias.data[o]
				}

				outData[yBase+o] = sum
			}
		}
	})

	outShape := make([]int64, x.Rank())
	copy(outShape, x.shape[:x.Rank()-1])
	outShape[x.Rank()-1] = out

	return newOwned(outData, outShape), nil
}
