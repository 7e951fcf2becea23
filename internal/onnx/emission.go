package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/go-tagger/internal/crf"
	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/model"
	"github.com/example/go-tagger/internal/runtime/tensor"
	"github.com/example/go-tagger/internal/safetensors"
)

// Graph and node names an exported tagger must use.
const (
	GraphName       = "tagger"
	InputIDs        = "input_ids"
	InputMask       = "attention_mask"
	OutputEmissions = "emissions"

	// CRFFile optionally holds CRF parameters next to the token index.
	CRFFile = "crf.safetensors"
)

// GraphRunner executes one ONNX graph.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// EmissionModel is a model.Model backed by an exported ONNX graph taking
// input_ids and attention_mask int64 [B, T] and producing emissions float32
// [B, T, C].
type EmissionModel struct {
	runner  GraphRunner
	tokens  *model.TokenIndex
	numTags int
	crf     *crf.CRF
}

var (
	_ model.Model   = (*EmissionModel)(nil)
	_ model.CRFHead = (*EmissionModel)(nil)
)

// NewEmissionModel wraps runner. head may be nil.
func NewEmissionModel(runner GraphRunner, tokens *model.TokenIndex, numTags int, head *crf.CRF) (*EmissionModel, error) {
	if runner == nil || tokens == nil {
		return nil, errors.New("onnx: runner and token index are required")
	}

	if numTags <= 0 {
		return nil, fmt.Errorf("onnx: numTags must be > 0, got %d", numTags)
	}

	if head != nil && head.NumTags() != numTags {
		return nil, fmt.Errorf("onnx: crf has %d tags, model has %d", head.NumTags(), numTags)
	}

	return &EmissionModel{runner: runner, tokens: tokens, numTags: numTags, crf: head}, nil
}

// LoadEmissionModel opens the tagger graph listed in manifestPath and reads
// tokens.json and the optional crf.safetensors from modelDir.
func LoadEmissionModel(manifestPath, modelDir string, numTags int, cfg RunnerConfig) (*EmissionModel, error) {
	bundle, err := LoadBundle(manifestPath)
	if err != nil {
		return nil, err
	}

	g, ok := bundle.Graph(GraphName)
	if !ok {
		return nil, fmt.Errorf("onnx: manifest %s has no %q graph", manifestPath, GraphName)
	}

	if err := g.Require([]string{InputIDs, InputMask}, []string{OutputEmissions}); err != nil {
		return nil, err
	}

	tokens, err := model.LoadTokenIndex(filepath.Join(modelDir, model.TokensFile))
	if err != nil {
		return nil, err
	}

	var head *crf.CRF

	crfPath := filepath.Join(modelDir, CRFFile)
	if _, err := os.Stat(crfPath); err == nil {
		store, err := safetensors.OpenStore(crfPath)
		if err != nil {
			return nil, err
		}

		if head, err = crf.FromStore(store, numTags); err != nil {
			return nil, err
		}
	}

	runner, err := openGraphRunner(g, cfg)
	if err != nil {
		return nil, err
	}

	m, err := NewEmissionModel(runner, tokens, numTags, head)
	if err != nil {
		runner.Close()
		return nil, err
	}

	return m, nil
}

func (m *EmissionModel) NumTags() int { return m.numTags }

// DataParallel is false: parallelism inside ORT is invisible here.
func (m *EmissionModel) DataParallel() bool { return false }

func (m *EmissionModel) CRF() *crf.CRF { return m.crf }

func (m *EmissionModel) Close() { m.runner.Close() }

func (m *EmissionModel) FeedBatch(ctx context.Context, batch *dataset.Batch) (*tensor.Tensor, [][]bool, error) {
	b, t := int64(batch.Len()), int64(batch.MaxLen)

	if b == 0 || t == 0 {
		emissions, err := tensor.Zeros([]int64{b, t, int64(m.numTags)})
		return emissions, batch.Mask, err
	}

	ids, err := Int64Tensor(m.tokens.Encode(batch.Tokens, batch.MaxLen), b, t)
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: %s: %w", InputIDs, err)
	}

	maskData := make([]int64, b*t)
	for i, row := range batch.Mask {
		for j, valid := range row {
			if valid {
				maskData[int64(i)*t+int64(j)] = 1
			}
		}
	}

	mask, err := Int64Tensor(maskData, b, t)
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: %s: %w", InputMask, err)
	}

	outputs, err := m.runner.Run(ctx, map[string]*Tensor{InputIDs: ids, InputMask: mask})
	if err != nil {
		return nil, nil, err
	}

	out, ok := outputs[OutputEmissions]
	if !ok {
		return nil, nil, fmt.Errorf("onnx: graph %q returned no %q output", m.runner.Name(), OutputEmissions)
	}

	data, err := out.Float32s()
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: %s: %w", OutputEmissions, err)
	}

	want := []int64{b, t, int64(m.numTags)}
	if got := out.Shape(); len(got) != 3 || got[0] != b || got[1] != t || got[2] != want[2] {
		return nil, nil, fmt.Errorf("onnx: %s shape %v, want %v", OutputEmissions, got, want)
	}

	emissions, err := tensor.New(data, want)
	if err != nil {
		return nil, nil, err
	}

	return emissions, batch.Mask, nil
}
