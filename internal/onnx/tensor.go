package onnx

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

type DType string

const (
	Float32 DType = "float32"
	Int64   DType = "int64"
)

// Tensor is a dense graph input or output. Exactly one of f32 and i64 is set.
type Tensor struct {
	dtype DType
	shape []int64
	f32   []float32
	i64   []int64
}

func Float32Tensor(data []float32, shape ...int64) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}

	return &Tensor{dtype: Float32, shape: append([]int64(nil), shape...), f32: append([]float32(nil), data...)}, nil
}

func Int64Tensor(data []int64, shape ...int64) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}

	return &Tensor{dtype: Int64, shape: append([]int64(nil), shape...), i64: append([]int64(nil), data...)}, nil
}

// ZeroTensor builds an all-zero tensor for node. Symbolic dimensions take
// their size from dims and default to 1.
func ZeroTensor(node Node, dims map[string]int64) (*Tensor, error) {
	dtype, err := canonicalDType(node.DType)
	if err != nil {
		return nil, err
	}

	shape, err := bindShape(node.Shape, dims)
	if err != nil {
		return nil, err
	}

	n, err := elementCount(shape)
	if err != nil {
		return nil, err
	}

	if dtype == Int64 {
		return Int64Tensor(make([]int64, n), shape...)
	}

	return Float32Tensor(make([]float32, n), shape...)
}

func (t *Tensor) DType() DType { return t.dtype }

func (t *Tensor) Shape() []int64 { return append([]int64(nil), t.shape...) }

// Float32s returns a copy of the data of a float32 tensor.
func (t *Tensor) Float32s() ([]float32, error) {
	if t == nil {
		return nil, errors.New("onnx: nil tensor")
	}

	if t.dtype != Float32 {
		return nil, fmt.Errorf("onnx: want float32 tensor, got %s", t.dtype)
	}

	return append([]float32(nil), t.f32...), nil
}

// Int64s returns a copy of the data of an int64 tensor.
func (t *Tensor) Int64s() ([]int64, error) {
	if t == nil {
		return nil, errors.New("onnx: nil tensor")
	}

	if t.dtype != Int64 {
		return nil, fmt.Errorf("onnx: want int64 tensor, got %s", t.dtype)
	}

	return append([]int64(nil), t.i64...), nil
}

func canonicalDType(raw string) (DType, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "tensor("), ")")

	switch s {
	case "float", "float32":
		return Float32, nil
	case "int64", "long":
		return Int64, nil
	default:
		return "", fmt.Errorf("onnx: unsupported dtype %q", raw)
	}
}

func bindShape(shape []any, dims map[string]int64) ([]int64, error) {
	out := make([]int64, len(shape))

	for i, dim := range shape {
		switch v := dim.(type) {
		case float64:
			if v < 1 || v != math.Trunc(v) {
				return nil, fmt.Errorf("onnx: dim %d = %v is not a positive integer", i, v)
			}

			out[i] = int64(v)
		case int:
			if v < 1 {
				return nil, fmt.Errorf("onnx: dim %d = %d is not positive", i, v)
			}

			out[i] = int64(v)
		case string:
			name := strings.TrimSpace(v)
			if name == "" {
				return nil, fmt.Errorf("onnx: dim %d has an empty symbolic name", i)
			}

			out[i] = 1
			if n, ok := dims[name]; ok && n > 0 {
				out[i] = n
			}
		default:
			return nil, fmt.Errorf("onnx: dim %d has unsupported type %T", i, dim)
		}
	}

	return out, nil
}

func checkShape(shape []int64, n int) error {
	want, err := elementCount(shape)
	if err != nil {
		return err
	}

	if want != n {
		return fmt.Errorf("onnx: shape %v holds %d elements, got %d", shape, want, n)
	}

	return nil
}

// elementCount accepts zero-sized dimensions for empty batches.
func elementCount(shape []int64) (int, error) {
	count := int64(1)

	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("onnx: dim %d = %d is negative", i, dim)
		}

		if dim > 0 && count > math.MaxInt64/dim {
			return 0, fmt.Errorf("onnx: shape %v overflows", shape)
		}

		count *= dim
	}

	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("onnx: shape %v exceeds int", shape)
	}

	return int(count), nil
}
