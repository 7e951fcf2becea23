// Package tagger turns model emissions into tag sequences. It computes the
// training loss, decodes with either a CRF or a per-position argmax and
// rewrites predicted spans with an override dictionary.
package tagger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/example/go-tagger/internal/crf"
	"github.com/example/go-tagger/internal/model"
	"github.com/example/go-tagger/internal/trie"
	"github.com/example/go-tagger/internal/vocab"
)

var (
	// ErrDataParallelCRF is returned when a data-parallel model is combined
	// with CRF decoding.
	ErrDataParallelCRF = errors.New("tagger: data-parallel models cannot be used with a CRF")
	// ErrNoCRF is returned when CRF decoding is requested but the model
	// carries no CRF parameters.
	ErrNoCRF = errors.New("tagger: crf requested but the model has no crf")
	// ErrReduction is returned for an unknown loss reduction.
	ErrReduction = errors.New("tagger: reduction must be mean or sum")
)

const (
	ReductionMean = "mean"
	ReductionSum  = "sum"

	DefaultTokenKey  = "token"
	DefaultBatchSize = 32
)

type Options struct {
	UseCRF bool
	// TokenKey names the token field of input records.
	TokenKey  string
	Reduction string
	BatchSize int
	// TaggingScheme is guessed from the tag vocabulary when empty.
	TaggingScheme vocab.Scheme
	// DataParallel forces the data-parallel check on even when the model
	// does not report it.
	DataParallel bool
	Dictionary   *trie.TupleTrie
	Logger       *slog.Logger
}

// Engine decodes emissions from a model into tags.
type Engine struct {
	model    model.Model
	tags     *vocab.Vocabulary
	opts     Options
	strategy decoder
	logger   *slog.Logger

	dict atomic.Pointer[trie.TupleTrie]

	schemeMu sync.Mutex
	scheme   vocab.Scheme
	guessed  bool
	warned   bool
}

// New validates opts against m and selects the decoding strategy once.
func New(m model.Model, tags *vocab.Vocabulary, opts Options) (*Engine, error) {
	if m == nil || tags == nil {
		return nil, errors.New("tagger: model and tag vocabulary are required")
	}

	if m.NumTags() != tags.Len() {
		return nil, fmt.Errorf("tagger: model scores %d tags, vocabulary has %d", m.NumTags(), tags.Len())
	}

	if opts.TokenKey == "" {
		opts.TokenKey = DefaultTokenKey
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	switch opts.Reduction {
	case "":
		opts.Reduction = ReductionMean
	case ReductionMean, ReductionSum:
	default:
		return nil, fmt.Errorf("%w, got %q", ErrReduction, opts.Reduction)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	opts.DataParallel = opts.DataParallel || m.DataParallel()

	e := &Engine{
		model:  m,
		tags:   tags,
		opts:   opts,
		logger: opts.Logger,
		scheme: opts.TaggingScheme,
	}

	if opts.UseCRF {
		if opts.DataParallel {
			return nil, ErrDataParallelCRF
		}

		head, ok := m.(model.CRFHead)
		if !ok || head.CRF() == nil {
			return nil, ErrNoCRF
		}

		if head.CRF().NumTags() != tags.Len() {
			return nil, fmt.Errorf("tagger: crf has %d tags, vocabulary has %d", head.CRF().NumTags(), tags.Len())
		}

		e.strategy = crfDecoder{crf: head.CRF()}
	} else {
		e.strategy = softmaxDecoder{}
	}

	e.dict.Store(opts.Dictionary)

	return e, nil
}

func (e *Engine) Model() model.Model { return e.model }

func (e *Engine) Tags() *vocab.Vocabulary { return e.tags }

func (e *Engine) UseCRF() bool { return e.opts.UseCRF }

func (e *Engine) TokenKey() string { return e.opts.TokenKey }

func (e *Engine) BatchSize() int { return e.opts.BatchSize }

// CRF returns the CRF used for decoding, or nil without one.
func (e *Engine) CRF() *crf.CRF {
	if d, ok := e.strategy.(crfDecoder); ok {
		return d.crf
	}

	return nil
}

// SetDictionary replaces the override dictionary. nil disables overrides.
// Predictions already running keep the dictionary they started with.
func (e *Engine) SetDictionary(d *trie.TupleTrie) {
	e.dict.Store(d)
}

func (e *Engine) Dictionary() *trie.TupleTrie {
	return e.dict.Load()
}

// TaggingScheme returns the configured scheme, or guesses it from the tag
// vocabulary on first use. An IOB1/IOB2 ambiguity resolves to IOB2 and is
// logged once per engine.
func (e *Engine) TaggingScheme() vocab.Scheme {
	e.schemeMu.Lock()
	defer e.schemeMu.Unlock()

	if e.scheme != vocab.SchemeNone || e.guessed {
		return e.scheme
	}

	scheme, ambiguous := vocab.GuessScheme(e.tags.Tags())
	e.scheme, e.guessed = scheme, true

	if ambiguous && !e.warned {
		e.warned = true
		e.logger.Warn("tagging scheme is ambiguous, using IOB2",
			"tags", e.tags.Tags(),
			"hint", "set tagging_scheme to IOB1 or IOB2 explicitly")
	}

	return e.scheme
}
