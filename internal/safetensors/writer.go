package safetensors

import (
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// EncodeTensors serializes tensors in name order, converting them to dtype
// (F32 when empty), plus optional string metadata.
func EncodeTensors(tensors []Tensor, metadata map[string]string, dtype DType) ([]byte, error) {
	if len(tensors) == 0 {
		return nil, errors.New("safetensors: no tensors to encode")
	}

	if dtype == "" {
		dtype = F32
	}

	if _, err := dtype.size(); err != nil {
		return nil, err
	}

	sorted := slices.SortedFunc(slices.Values(tensors), func(a, b Tensor) int { return cmp.Compare(a.Name, b.Name) })

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var payload []byte

	for _, t := range sorted {
		name := strings.TrimSpace(t.Name)
		if name == "" || name == metadataKey {
			return nil, fmt.Errorf("safetensors: invalid tensor name %q", t.Name)
		}

		if _, dup := header[name]; dup {
			return nil, fmt.Errorf("safetensors: duplicate tensor name %q", name)
		}

		n, err := elemCount(t.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		if len(t.Data) != n {
			return nil, fmt.Errorf("safetensors: tensor %q shape %v expects %d elements, got %d", name, t.Shape, n, len(t.Data))
		}

		start := len(payload)
		payload = encode(payload, t.Data, dtype)

		header[name] = entry{DType: dtype, Shape: slices.Clone(t.Shape), Offsets: [2]int{start, len(payload)}}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode header: %w", err)
	}

	out := make([]byte, 0, 8+len(headerJSON)+len(payload))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(headerJSON)))
	out = append(out, headerJSON...)

	return append(out, payload...), nil
}

func encode(dst []byte, data []float32, dtype DType) []byte {
	switch dtype {
	case F16:
		for _, v := range data {
			dst = binary.LittleEndian.AppendUint16(dst, float16.Fromfloat32(v).Bits())
		}

		return dst
	case BF16:
		return append(dst, bfloat16.EncodeFloat32(data)...)
	default:
		for _, v := range data {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		}

		return dst
	}
}

// WriteFile writes tensors to path through a temporary file and rename, so a
// reader never sees a partial checkpoint.
func WriteFile(path string, tensors []Tensor, metadata map[string]string, dtype DType) error {
	data, err := EncodeTensors(tensors, metadata, dtype)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.safetensors")
	if err != nil {
		return fmt.Errorf("safetensors: create temp for %s: %w", path, err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("safetensors: write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("safetensors: close %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("safetensors: rename into %s: %w", path, err)
	}

	return nil
}
