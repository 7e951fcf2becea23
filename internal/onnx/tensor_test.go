package onnx

import (
	"reflect"
	"strings"
	"testing"
)

func TestTensorConstructors(t *testing.T) {
	src := []float32{1, 2, 3, 4}

	f, err := Float32Tensor(src, 2, 2)
	if err != nil {
		t.Fatalf("Float32Tensor: %v", err)
	}

	src[0] = 99

	data, err := f.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}

	if f.DType() != Float32 || !reflect.DeepEqual(f.Shape(), []int64{2, 2}) || data[0] != 1 {
		t.Fatalf("unexpected tensor %s %v %v", f.DType(), f.Shape(), data)
	}

	data[1] = 42
	if again, _ := f.Float32s(); again[1] != 2 {
		t.Fatal("Float32s must return a copy")
	}

	i, err := Int64Tensor([]int64{3, 4}, 1, 2)
	if err != nil {
		t.Fatalf("Int64Tensor: %v", err)
	}

	if ids, _ := i.Int64s(); !reflect.DeepEqual(ids, []int64{3, 4}) {
		t.Fatalf("Int64s = %v", ids)
	}

	if _, err := i.Float32s(); err == nil {
		t.Error("Float32s on an int64 tensor should fail")
	}

	if _, err := f.Int64s(); err == nil {
		t.Error("Int64s on a float32 tensor should fail")
	}

	var nilTensor *Tensor
	if _, err := nilTensor.Float32s(); err == nil {
		t.Error("Float32s on nil should fail")
	}

	if _, err := Int64Tensor([]int64{1, 2, 3}, 2, 2); err == nil || !strings.Contains(err.Error(), "holds 4 elements, got 3") {
		t.Errorf("shape mismatch error = %v", err)
	}

	empty, err := Float32Tensor(nil, 0, 3)
	if err != nil || len(empty.Shape()) != 2 {
		t.Errorf("zero-sized tensor: %v", err)
	}
}

func TestZeroTensor(t *testing.T) {
	dims := map[string]int64{"batch": 2, "tokens": 5}

	tests := []struct {
		name      string
		node      Node
		wantDType DType
		wantShape []int64
	}{
		{"bound symbolic dims", Node{DType: "int64", Shape: []any{"batch", "tokens"}}, Int64, []int64{2, 5}},
		{"unbound symbolic dim", Node{DType: "float", Shape: []any{1.0, "frames"}}, Float32, []int64{1, 1}},
		{"fixed", Node{DType: "tensor(float)", Shape: []any{2.0, 3}}, Float32, []int64{2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ZeroTensor(tt.node, dims)
			if err != nil {
				t.Fatalf("ZeroTensor: %v", err)
			}

			if got.DType() != tt.wantDType || !reflect.DeepEqual(got.Shape(), tt.wantShape) {
				t.Fatalf("got %s %v, want %s %v", got.DType(), got.Shape(), tt.wantDType, tt.wantShape)
			}
		})
	}
}

func TestZeroTensorErrors(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want string
	}{
		{"unsupported dtype", Node{DType: "bool", Shape: []any{1.0}}, "unsupported dtype"},
		{"zero dim", Node{DType: "float32", Shape: []any{0.0, 2.0}}, "not a positive integer"},
		{"fractional dim", Node{DType: "float32", Shape: []any{1.5}}, "not a positive integer"},
		{"empty symbol", Node{DType: "int64", Shape: []any{" "}}, "empty symbolic"},
		{"unsupported dim type", Node{DType: "int64", Shape: []any{true}}, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ZeroTensor(tt.node, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want %q", err, tt.want)
			}
		})
	}
}
