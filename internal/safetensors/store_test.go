package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

type rawTensor struct {
	dtype string
	shape []int64
	data  []byte
}

// buildSafetensors assembles a payload by hand so the reader is tested
// independently of EncodeTensors.
func buildSafetensors(t *testing.T, tensors map[string]rawTensor) []byte {
	t.Helper()

	header := make(map[string]entry)

	var data []byte

	for name, info := range tensors {
		start := len(data)
		data = append(data, info.data...)
		header[name] = entry{
			DType:   DType(info.dtype),
			Shape:   info.shape,
			Offsets: [2]int{start, start + len(info.data)},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(headerJSON)))
	buf = append(buf, headerJSON...)

	return append(buf, data...)
}

func float32Bytes(vals []float32) []byte {
	buf := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}

	return buf
}

func float16Bytes(bits []uint16) []byte {
	buf := make([]byte, 0, len(bits)*2)
	for _, b := range bits {
		buf = binary.LittleEndian.AppendUint16(buf, b)
	}

	return buf
}

// bfloat16Bytes truncates to the top half of each float32.
func bfloat16Bytes(vals []float32) []byte {
	bits := make([]uint16, len(vals))
	for i, v := range vals {
		bits[i] = uint16(math.Float32bits(v) >> 16)
	}

	return float16Bytes(bits)
}

func assertFloatSliceNear(t *testing.T, got, want []float32, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("len = %d; want %d", len(got), len(want))
	}

	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("[%d] = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestStoreTensorByName(t *testing.T) {
	blob := buildSafetensors(t, map[string]rawTensor{
		"crf.start":       {dtype: "F32", shape: []int64{2}, data: float32Bytes([]float32{1, 2})},
		"crf.transitions": {dtype: "F32", shape: []int64{1, 3}, data: float32Bytes([]float32{3, 4, 5})},
	})

	store, err := OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}

	if got := strings.Join(store.Names(), "|"); got != "crf.start|crf.transitions" {
		t.Fatalf("Names() = %v", got)
	}

	if !store.Has("crf.start") || store.Has("crf.end") {
		t.Fatal("Has reports the wrong tensors")
	}

	if d, ok := store.DType("crf.start"); !ok || d != F32 {
		t.Fatalf("DType = %q, %v", d, ok)
	}

	tensor, err := store.TensorWithShape("crf.transitions", []int64{1, 3})
	if err != nil {
		t.Fatalf("TensorWithShape: %v", err)
	}

	assertFloatSliceNear(t, tensor.Data, []float32{3, 4, 5}, 0)

	if _, err := store.TensorWithShape("crf.start", []int64{3}); err == nil {
		t.Fatal("expected shape mismatch error")
	}

	if _, err := store.Tensor("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Tensor(missing) error = %v; want ErrNotFound", err)
	}
}

func TestStoreHalfPrecision(t *testing.T) {
	blob := buildSafetensors(t, map[string]rawTensor{
		"half":  {dtype: "F16", shape: []int64{4}, data: float16Bytes([]uint16{0x3c00, 0xc000, 0x3800, 0x0001})},
		"bhalf": {dtype: "bf16", shape: []int64{3}, data: bfloat16Bytes([]float32{1.0, -2.0, 0.5})},
	})

	store, err := OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}

	half, err := store.Tensor("half")
	if err != nil {
		t.Fatalf("Tensor(half): %v", err)
	}

	assertFloatSliceNear(t, half.Data, []float32{1.0, -2.0, 0.5, 5.9604645e-08}, 1e-10)

	bhalf, err := store.Tensor("bhalf")
	if err != nil {
		t.Fatalf("Tensor(bhalf): %v", err)
	}

	assertFloatSliceNear(t, bhalf.Data, []float32{1.0, -2.0, 0.5}, 0)

	if d, _ := store.DType("bhalf"); d != BF16 {
		t.Fatalf("lower-case dtype not canonicalized: %q", d)
	}
}

func TestStoreCorruption(t *testing.T) {
	valid := buildSafetensors(t, map[string]rawTensor{
		"w": {dtype: "F32", shape: []int64{2}, data: float32Bytes([]float32{1, 2})},
	})

	tests := []struct {
		name string
		blob []byte
	}{
		{"too short", []byte{1, 2, 3}},
		{"header beyond file", binary.LittleEndian.AppendUint64(nil, 1<<40)},
		{"bad json", append(binary.LittleEndian.AppendUint64(nil, 3), []byte("{x}")...)},
		{"truncated data", valid[:len(valid)-2]},
		{"span too long", buildSafetensors(t, map[string]rawTensor{
			"w": {dtype: "F32", shape: []int64{1}, data: float32Bytes([]float32{1, 2})},
		})},
		{"unsupported dtype", buildSafetensors(t, map[string]rawTensor{
			"w": {dtype: "I8", shape: []int64{1}, data: []byte{1}},
		})},
		{"no tensors", append(binary.LittleEndian.AppendUint64(nil, 2), []byte("{}")...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := OpenStoreFromBytes(tt.blob); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOpenStoreMissingFile(t *testing.T) {
	if _, err := OpenStore("/nonexistent/model.safetensors"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
