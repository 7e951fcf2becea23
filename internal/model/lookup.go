package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/example/go-tagger/internal/crf"
	"github.com/example/go-tagger/internal/dataset"
	"github.com/example/go-tagger/internal/runtime/tensor"
	"github.com/example/go-tagger/internal/safetensors"
)

const (
	WeightsFile = "model.safetensors"
	TokensFile  = "tokens.json"

	embeddingName = "embedding.weight"
	projName      = "proj.weight"
	biasName      = "proj.bias"
)

// ErrUnlabelled is returned when fitting a batch without gold tags.
var ErrUnlabelled = errors.New("model: batch has no gold tags")

// LookupConfig configures a new Lookup model.
type LookupConfig struct {
	Dim  int
	Seed uint64
	// CRF attaches zero-initialized transition parameters.
	CRF bool
	// DType is the element type Save writes. Empty means F32.
	DType safetensors.DType
}

// Lookup scores tags with a per-token embedding followed by a linear
// projection. It is trained with perceptron updates.
type Lookup struct {
	tokens    *TokenIndex
	numTags   int
	dim       int
	embedding *tensor.Tensor // [V, D]
	proj      *tensor.Tensor // [C, D]
	bias      *tensor.Tensor // [C]
	crf       *crf.CRF
	dtype     safetensors.DType
}

var (
	_ Model        = (*Lookup)(nil)
	_ CRFHead      = (*Lookup)(nil)
	_ Fitter       = (*Lookup)(nil)
	_ Checkpointer = (*Lookup)(nil)
)

// NewLookup creates a model over tokens with randomly initialized
// embeddings and a zero projection.
func NewLookup(tokens *TokenIndex, numTags int, cfg LookupConfig) (*Lookup, error) {
	if tokens == nil {
		return nil, errors.New("model: token index is required")
	}

	if numTags <= 0 {
		return nil, fmt.Errorf("model: numTags must be > 0, got %d", numTags)
	}

	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("model: embedding dim must be > 0, got %d", cfg.Dim)
	}

	dtype, err := safetensors.ParseDType(string(cfg.DType))
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	m, err := newLookup(tokens, numTags, cfg.Dim)
	if err != nil {
		return nil, err
	}

	m.dtype = dtype

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	scale := 1 / math.Sqrt(float64(cfg.Dim))

	emb := m.embedding.RawData()
	for i := range emb {
		emb[i] = float32(rng.NormFloat64() * scale)
	}

	if cfg.CRF {
		if m.crf, err = crf.New(numTags); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func newLookup(tokens *TokenIndex, numTags, dim int) (*Lookup, error) {
	emb, err := tensor.Zeros([]int64{int64(tokens.Len()), int64(dim)})
	if err != nil {
		return nil, err
	}

	proj, err := tensor.Zeros([]int64{int64(numTags), int64(dim)})
	if err != nil {
		return nil, err
	}

	bias, err := tensor.Zeros([]int64{int64(numTags)})
	if err != nil {
		return nil, err
	}

	return &Lookup{
		tokens:    tokens,
		numTags:   numTags,
		dim:       dim,
		embedding: emb,
		proj:      proj,
		bias:      bias,
		dtype:     safetensors.F32,
	}, nil
}

func (m *Lookup) NumTags() int { return m.numTags }

// DataParallel reports whether tensor kernels run on more than one worker.
func (m *Lookup) DataParallel() bool { return tensor.Workers() > 1 }

// CRF returns the attached CRF or nil.
func (m *Lookup) CRF() *crf.CRF { return m.crf }

// Tokens returns the token index.
func (m *Lookup) Tokens() *TokenIndex { return m.tokens }

// FeedBatch embeds every position, padding included, and projects it to tag
// scores.
func (m *Lookup) FeedBatch(ctx context.Context, batch *dataset.Batch) (*tensor.Tensor, [][]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	b, t := int64(batch.Len()), int64(batch.MaxLen)

	x, err := m.embedding.Gather(0, m.tokens.Encode(batch.Tokens, batch.MaxLen))
	if err != nil {
		return nil, nil, fmt.Errorf("model: embed: %w", err)
	}

	x, err = x.Reshape([]int64{b, t, int64(m.dim)})
	if err != nil {
		return nil, nil, fmt.Errorf("model: embed: %w", err)
	}

	emissions, err := tensor.Linear(x, m.proj, m.bias)
	if err != nil {
		return nil, nil, fmt.Errorf("model: project: %w", err)
	}

	return emissions, batch.Mask, nil
}

// FitBatch applies a perceptron update at every valid position whose
// prediction differs from gold: the gold tag row moves towards the token
// embedding, the predicted row away from it, and the embedding towards the
// difference of the two rows.
func (m *Lookup) FitBatch(ctx context.Context, batch *dataset.Batch, pred [][]int, lr float32) error {
	if !batch.Labelled() {
		return ErrUnlabelled
	}

	emb := m.embedding.RawData()
	proj := m.proj.RawData()
	bias := m.bias.RawData()
	d := m.dim

	for b, toks := range batch.Tokens {
		if err := ctx.Err(); err != nil {
			return err
		}

		for i, tok := range toks {
			gold := batch.TagIDs[b][i]

			p := -1
			if b < len(pred) && i < len(pred[b]) {
				p = pred[b][i]
			}

			if p == gold {
				continue
			}

			if p >= m.numTags {
				return fmt.Errorf("model: predicted id %d out of range", p)
			}

			x := emb[m.tokens.ID(tok)*d:][:d]
			g := proj[gold*d:][:d]

			if p < 0 {
				for j := range d {
					g[j] += lr * x[j]
				}

				bias[gold] += lr

				continue
			}

			w := proj[p*d:][:d]
			for j := range d {
				xj := x[j]
				x[j] += lr * (g[j] - w[j])
				g[j] += lr * xj
				w[j] -= lr * xj
			}

			bias[gold] += lr
			bias[p] -= lr
		}
	}

	return nil
}

func (m *Lookup) tensors() []safetensors.Tensor {
	out := []safetensors.Tensor{
		{Name: embeddingName, Shape: m.embedding.Shape(), Data: m.embedding.Data()},
		{Name: projName, Shape: m.proj.Shape(), Data: m.proj.Data()},
		{Name: biasName, Shape: m.bias.Shape(), Data: m.bias.Data()},
	}

	if m.crf != nil {
		out = append(out, m.crf.Tensors()...)
	}

	return out
}

// Save writes model.safetensors and tokens.json into dir.
func (m *Lookup) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("model: create %s: %w", dir, err)
	}

	meta := map[string]string{
		"kind":     "lookup",
		"num_tags": strconv.Itoa(m.numTags),
		"dim":      strconv.Itoa(m.dim),
		"crf":      strconv.FormatBool(m.crf != nil),
	}

	if err := safetensors.WriteFile(filepath.Join(dir, WeightsFile), m.tensors(), meta, m.dtype); err != nil {
		return err
	}

	return m.tokens.Save(filepath.Join(dir, TokensFile))
}

// Load replaces the weights in place with those saved in dir. The saved
// shapes must match.
func (m *Lookup) Load(dir string) error {
	loaded, err := LoadLookup(dir)
	if err != nil {
		return err
	}

	if loaded.numTags != m.numTags || loaded.dim != m.dim || loaded.tokens.Len() != m.tokens.Len() {
		return fmt.Errorf("model: checkpoint in %s does not match model shape", dir)
	}

	if (loaded.crf == nil) != (m.crf == nil) {
		return fmt.Errorf("model: checkpoint in %s disagrees on crf", dir)
	}

	m.embedding, m.proj, m.bias = loaded.embedding, loaded.proj, loaded.bias
	if m.crf != nil {
		*m.crf = *loaded.crf
	}

	return nil
}

// LoadLookup reads a model written by Save.
func LoadLookup(dir string) (*Lookup, error) {
	tokens, err := LoadTokenIndex(filepath.Join(dir, TokensFile))
	if err != nil {
		return nil, err
	}

	store, err := safetensors.OpenStore(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, err
	}

	meta := store.Metadata()
	if kind := meta["kind"]; kind != "lookup" {
		return nil, fmt.Errorf("model: %s holds %q weights, want lookup", dir, kind)
	}

	numTags, err := strconv.Atoi(meta["num_tags"])
	if err != nil {
		return nil, fmt.Errorf("model: num_tags metadata: %w", err)
	}

	dim, err := strconv.Atoi(meta["dim"])
	if err != nil {
		return nil, fmt.Errorf("model: dim metadata: %w", err)
	}

	m, err := newLookup(tokens, numTags, dim)
	if err != nil {
		return nil, err
	}

	// keep the precision the checkpoint was written in
	if d, ok := store.DType(embeddingName); ok {
		m.dtype = d
	}

	for _, p := range []struct {
		name string
		dst  *tensor.Tensor
	}{
		{embeddingName, m.embedding},
		{projName, m.proj},
		{biasName, m.bias},
	} {
		t, err := store.TensorWithShape(p.name, p.dst.Shape())
		if err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}

		copy(p.dst.RawData(), t.Data)
	}

	if meta["crf"] == "true" {
		if m.crf, err = crf.FromStore(store, numTags); err != nil {
			return nil, err
		}
	}

	return m, nil
}
