package safetensors

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileRoundTrip(t *testing.T) {
	in := []Tensor{
		{Name: "proj.weight", Shape: []int64{2, 2}, Data: []float32{1, -2, 3.5, 4}},
		{Name: "crf.end", Shape: []int64{2}, Data: []float32{0.25, -0.25}},
	}
	meta := map[string]string{"crf": "true", "token_key": "token"}

	// every value above is exactly representable in all three dtypes
	for _, dtype := range []DType{F32, F16, BF16} {
		t.Run(string(dtype), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.safetensors")

			if err := WriteFile(path, in, meta, dtype); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			store, err := OpenStore(path)
			if err != nil {
				t.Fatalf("OpenStore: %v", err)
			}

			if got := store.Names(); len(got) != 2 || got[0] != "crf.end" {
				t.Fatalf("Names = %v", got)
			}

			if got, _ := store.DType("proj.weight"); got != dtype {
				t.Fatalf("stored dtype = %q, want %q", got, dtype)
			}

			w, err := store.Tensor("proj.weight")
			if err != nil {
				t.Fatalf("Tensor: %v", err)
			}

			assertFloatSliceNear(t, w.Data, in[0].Data, 0)

			if got := store.Metadata(); got["crf"] != "true" || got["token_key"] != "token" {
				t.Fatalf("Metadata = %v", got)
			}

			entries, err := os.ReadDir(filepath.Dir(path))
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}

			if len(entries) != 1 {
				t.Fatalf("temp files left behind: %v", entries)
			}
		})
	}
}

func TestHalfPrecisionRounds(t *testing.T) {
	blob, err := EncodeTensors([]Tensor{{Name: "w", Shape: []int64{1}, Data: []float32{0.1}}}, nil, F16)
	if err != nil {
		t.Fatalf("EncodeTensors: %v", err)
	}

	store, err := OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}

	w, _ := store.Tensor("w")
	assertFloatSliceNear(t, w.Data, []float32{0.1}, 1e-4)
}

func TestEncodeTensorsValidation(t *testing.T) {
	one := []Tensor{{Name: "a", Shape: []int64{1}, Data: []float32{1}}}

	tests := []struct {
		name    string
		tensors []Tensor
		dtype   DType
	}{
		{"empty", nil, F32},
		{"blank name", []Tensor{{Name: " ", Shape: []int64{1}, Data: []float32{1}}}, F32},
		{"reserved name", []Tensor{{Name: "__metadata__", Shape: []int64{1}, Data: []float32{1}}}, F32},
		{"duplicate", append(one, Tensor{Name: "a", Shape: []int64{1}, Data: []float32{2}}), F32},
		{"shape mismatch", []Tensor{{Name: "a", Shape: []int64{2, 2}, Data: []float32{1}}}, F16},
		{"unknown dtype", one, DType("I8")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeTensors(tt.tensors, nil, tt.dtype); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{"": F32, "f32": F32, " F16 ": F16, "bf16": BF16} {
		got, err := ParseDType(in)
		if err != nil || got != want {
			t.Errorf("ParseDType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := ParseDType("int8"); err == nil {
		t.Error("ParseDType(int8) should fail")
	}
}
