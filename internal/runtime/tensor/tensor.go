// Package tensor is a small dense float32 tensor runtime used for emission
// scores and model weights.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// Tensor is a dense, row-major float32 tensor.
type Tensor struct {
	shape []int64
	data  []float32
}

// New creates a tensor from data and shape. Both are copied.
func New(data []float32, shape []int64) (*Tensor, error) {
	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	if len(data) != total {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, total)
	}

	s := append([]int64(nil), shape...)
	d := append([]float32(nil), data...)

	return &Tensor{shape: s, data: d}, nil
}

// newOwned takes ownership of data and shape without copying. The caller
// guarantees len(data) matches shape.
func newOwned(data []float32, shape []int64) *Tensor {
	return &Tensor{shape: shape, data: data}
}

// Zeros creates a zero-initialized tensor.
func Zeros(shape []int64) (*Tensor, error) {
	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  make([]float32, total),
	}, nil
}

func (t *Tensor) Shape() []int64 {
	if t == nil {
		return nil
	}

	return append([]int64(nil), t.shape...)
}

// Dim returns the size of dimension dim; negative dims count from the end.
func (t *Tensor) Dim(dim int) int {
	if t == nil {
		return 0
	}

	d, err := axis(dim, len(t.shape))
	if err != nil {
		return 0
	}

	return int(t.shape[d])
}

// Data returns a copy of the underlying data.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}

	return append([]float32(nil), t.data...)
}

// RawData returns the underlying data slice. Writes are visible to the
// tensor; callers that only read must not modify it.
func (t *Tensor) RawData() []float32 {
	if t == nil {
		return nil
	}

	return t.data
}

func (t *Tensor) ElemCount() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}

	return len(t.shape)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	dup, _ := New(t.data, t.shape)

	return dup
}

// Row returns the innermost vector at the given leading coordinates, sharing
// storage with t. For a [B, T, C] tensor Row(b, i) is the C scores of token i
// in sample b.
func (t *Tensor) Row(coord ...int) ([]float32, error) {
	if t == nil {
		return nil, errors.New("tensor: row on nil tensor")
	}

	if len(coord) != len(t.shape)-1 {
		return nil, fmt.Errorf("tensor: row needs %d coordinates for shape %v, got %d", len(t.shape)-1, t.shape, len(coord))
	}

	inner := int(t.shape[len(t.shape)-1])
	off := 0

	for i, c := range coord {
		if c < 0 || int64(c) >= t.shape[i] {
			return nil, fmt.Errorf("tensor: row coordinate %d (%d) out of range for dim size %d", i, c, t.shape[i])
		}

		off = off*int(t.shape[i]) + c
	}

	off *= inner

	return t.data[off : off+inner], nil
}

// Reshape returns a tensor with a new shape and copied values.
func (t *Tensor) Reshape(shape []int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: reshape on nil tensor")
	}

	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	if total != len(t.data) {
		return nil, fmt.Errorf("tensor: cannot reshape %v (%d elements) to %v (%d elements)", t.shape, len(t.data), shape, total)
	}

	return &Tensor{shape: append([]int64(nil), shape...), data: append([]float32(nil), t.data...)}, nil
}

// split returns the element counts before dim and after it.
func (t *Tensor) split(dim int) (outer, inner int64) {
	outer, inner = 1, 1
	for i, d := range t.shape {
		switch {
		case i < dim:
			outer *= d
		case i > dim:
			inner *= d
		}
	}

	return outer, inner
}

// Narrow keeps length entries of dim starting at start.
func (t *Tensor) Narrow(dim int, start, length int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: narrow on nil tensor")
	}

	dim, err := axis(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: narrow: %w", err)
	}

	size := t.shape[dim]
	if start < 0 || length < 0 || start+length > size {
		return nil, fmt.Errorf("tensor: narrow: [%d:%d] out of bounds for dim %d size %d", start, start+length, dim, size)
	}

	idx := make([]int64, length)
	for i := range idx {
		idx[i] = start + int64(i)
	}

	return t.gather(dim, idx), nil
}

// Gather selects indices along dim. Gathering dim 0 of an embedding table
// with token ids yields their vectors.
func (t *Tensor) Gather(dim int, indices []int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: gather on nil tensor")
	}

	dim, err := axis(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: gather: %w", err)
	}

	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[dim] {
			return nil, fmt.Errorf("tensor: gather index %d (%d) out of range for dim %d size %d", i, idx, dim, t.shape[dim])
		}
	}

	return t.gather(dim, indices), nil
}

// gather assumes dim and indices are in range.
func (t *Tensor) gather(dim int, indices []int64) *Tensor {
	outer, inner := t.split(dim)
	size, n := t.shape[dim], int64(len(indices))

	shape := append([]int64(nil), t.shape...)
	shape[dim] = n

	data := make([]float32, outer*n*inner)
	for o := range outer {
		for j, idx := range indices {
			src := (o*size + idx) * inner
			dst := (o*n + int64(j)) * inner
			copy(data[dst:dst+inner], t.data[src:src+inner])
		}
	}

	return newOwned(data, shape)
}

func elemCount(shape []int64) (int, error) {
	n := int64(1)

	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("tensor: shape %v has negative dimension at %d", shape, i)
		}

		if d > 0 && n > math.MaxInt/int64(d) {
			return 0, fmt.Errorf("tensor: shape %v too large", shape)
		}

		n *= d
	}

	return int(n), nil
}

// axis resolves a possibly negative dimension index against rank.
func axis(dim, rank int) (int, error) {
	if dim < 0 {
		dim += rank
	}

	if dim < 0 || dim >= rank {
		return 0, fmt.Errorf("tensor: dim %d out of range for rank %d", dim, rank)
	}

	return dim, nil
}
