// Package safetensors reads and writes the safetensors weight format used for
// tagger checkpoints: an 8-byte little-endian header length, a JSON header
// describing each tensor, then raw tensor bytes.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is an element type of the format. All of them decode to float32.
type DType string

const (
	F32  DType = "F32"
	F16  DType = "F16"
	BF16 DType = "BF16"
)

const metadataKey = "__metadata__"

// ParseDType accepts the names case-insensitively. Empty means F32.
func ParseDType(s string) (DType, error) {
	d := DType(strings.ToUpper(strings.TrimSpace(s)))
	if d == "" {
		return F32, nil
	}

	if _, err := d.size(); err != nil {
		return "", err
	}

	return d, nil
}

func (d DType) size() (int, error) {
	switch d {
	case F32:
		return 4, nil
	case F16, BF16:
		return 2, nil
	default:
		return 0, fmt.Errorf("safetensors: unsupported dtype %q", string(d))
	}
}

// ErrNotFound is returned by Store.Tensor for unknown names.
var ErrNotFound = errors.New("safetensors: tensor not found")

// Tensor is a named float32 tensor.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Store indexes a safetensors payload. Tensor data is decoded on access.
type Store struct {
	raw      []byte
	entries  map[string]entry
	metadata map[string]string
}

type entry struct {
	DType   DType   `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

// OpenStore reads path into memory and indexes it.
func OpenStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	s, err := OpenStoreFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return s, nil
}

// OpenStoreFromBytes indexes an in-memory payload. Offsets in the returned
// store are absolute positions in data.
func OpenStoreFromBytes(data []byte) (*Store, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too short (%d bytes)", len(data))
	}

	n := binary.LittleEndian.Uint64(data[:8])
	if n > uint64(len(data)-8) {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size %d", n, len(data))
	}

	base := 8 + int(n)

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:base], &header); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	s := &Store{raw: data, entries: make(map[string]entry, len(header)), metadata: map[string]string{}}

	for name, raw := range header {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &s.metadata); err != nil {
				return nil, fmt.Errorf("safetensors: decode metadata: %w", err)
			}

			continue
		}

		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("safetensors: decode header entry %q: %w", name, err)
		}

		e.DType = DType(strings.ToUpper(string(e.DType)))

		if err := e.check(name, len(data)-base); err != nil {
			return nil, err
		}

		e.Offsets[0] += base
		e.Offsets[1] += base
		s.entries[name] = e
	}

	if len(s.entries) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	return s, nil
}

func (e entry) check(name string, payload int) error {
	width, err := e.DType.size()
	if err != nil {
		return fmt.Errorf("tensor %q: %w", name, err)
	}

	start, end := e.Offsets[0], e.Offsets[1]
	if start < 0 || end < start || end > payload {
		return fmt.Errorf("safetensors: tensor %q has invalid data offsets %v for %d payload bytes", name, e.Offsets, payload)
	}

	count, err := elemCount(e.Shape)
	if err != nil {
		return fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	if need := count * width; end-start != need {
		return fmt.Errorf("safetensors: tensor %q needs %d bytes but spans %d", name, need, end-start)
	}

	return nil
}

// Names lists tensor names in sorted order.
func (s *Store) Names() []string { return slices.Sorted(maps.Keys(s.entries)) }

func (s *Store) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// DType reports the stored element type of name.
func (s *Store) DType(name string) (DType, bool) {
	e, ok := s.entries[name]
	return e.DType, ok
}

// Metadata returns a copy of the string map stored under __metadata__.
func (s *Store) Metadata() map[string]string { return maps.Clone(s.metadata) }

// Tensor decodes name to float32.
func (s *Store) Tensor(name string) (*Tensor, error) {
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrNotFound, name, summarize(s.Names()))
	}

	return &Tensor{
		Name:  name,
		Shape: slices.Clone(e.Shape),
		Data:  decode(s.raw[e.Offsets[0]:e.Offsets[1]], e.DType),
	}, nil
}

// TensorWithShape decodes name and checks its shape.
func (s *Store) TensorWithShape(name string, want []int64) (*Tensor, error) {
	t, err := s.Tensor(name)
	if err != nil {
		return nil, err
	}

	if !slices.Equal(t.Shape, want) {
		return nil, fmt.Errorf("safetensors: tensor %q shape %v, want %v", name, t.Shape, want)
	}

	return t, nil
}

// decode expects raw to be validated against dtype already.
func decode(raw []byte, dtype DType) []float32 {
	switch dtype {
	case F16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}

		return out
	case BF16:
		return bfloat16.DecodeFloat32(raw)
	default:
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}

		return out
	}
}

func elemCount(shape []int64) (int, error) {
	n := int64(1)

	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}

		if d > 0 && n > (math.MaxInt64/8)/d {
			return 0, fmt.Errorf("shape %v too large", shape)
		}

		n *= d
	}

	return int(n), nil
}

func summarize(names []string) string {
	const limit = 8

	switch {
	case len(names) == 0:
		return "none"
	case len(names) > limit:
		return strings.Join(names[:limit], ", ") + ", ..."
	default:
		return strings.Join(names, ", ")
	}
}
