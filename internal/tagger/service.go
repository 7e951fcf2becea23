package tagger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/example/go-tagger/internal/config"
	"github.com/example/go-tagger/internal/model"
	"github.com/example/go-tagger/internal/onnx"
	"github.com/example/go-tagger/internal/text"
	"github.com/example/go-tagger/internal/tokenizer"
	"github.com/example/go-tagger/internal/trie"
	"github.com/example/go-tagger/internal/vocab"
)

// Service bundles an engine with the model backend and text splitter
// selected by configuration.
type Service struct {
	engine     *Engine
	splitter   tokenizer.Splitter
	normalizer text.Normalizer
	close      func()
}

// NewService loads the tag vocabulary and model from cfg.Paths.ModelDir and
// the optional override dictionary.
func NewService(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tags, err := vocab.Load(filepath.Join(cfg.Paths.ModelDir, TagsFile))
	if err != nil {
		return nil, err
	}

	m, closeModel, err := OpenModel(cfg, tags.Len())
	if err != nil {
		return nil, err
	}

	svc, err := NewServiceWithModel(cfg, m, tags, logger)
	if err != nil {
		closeModel()
		return nil, err
	}

	svc.close = closeModel

	return svc, nil
}

// OpenModel opens the emission model for cfg.Tagger.Backend. The returned
// func releases backend resources.
func OpenModel(cfg config.Config, numTags int) (model.Model, func(), error) {
	backend, err := config.NormalizeBackend(cfg.Tagger.Backend)
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case config.BackendONNX:
		if cfg.Paths.ONNXModel == "" {
			return nil, nil, fmt.Errorf("tagger: backend %q needs paths.onnx_model", backend)
		}

		info, err := onnx.Bootstrap(cfg.Runtime)
		if err != nil {
			return nil, nil, fmt.Errorf("tagger: onnx runtime: %w", err)
		}

		m, err := onnx.LoadEmissionModel(cfg.Paths.ONNXModel, cfg.Paths.ModelDir, numTags, onnx.RunnerConfig{LibraryPath: info.LibraryPath})
		if err != nil {
			return nil, nil, err
		}

		return m, m.Close, nil
	default:
		m, err := model.LoadLookup(cfg.Paths.ModelDir)
		if err != nil {
			return nil, nil, err
		}

		return m, func() {}, nil
	}
}

// NewServiceWithModel builds a service around an already opened model.
func NewServiceWithModel(cfg config.Config, m model.Model, tags *vocab.Vocabulary, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scheme, err := vocab.ParseScheme(cfg.Tagger.TaggingScheme)
	if err != nil {
		return nil, err
	}

	var dict *trie.TupleTrie
	if cfg.Paths.Dictionary != "" {
		if dict, err = trie.LoadFile(cfg.Paths.Dictionary); err != nil {
			return nil, err
		}
	}

	engine, err := New(m, tags, Options{
		UseCRF:        cfg.Tagger.CRF,
		TokenKey:      cfg.Tagger.TokenKey,
		Reduction:     cfg.Tagger.Reduction,
		BatchSize:     cfg.Tagger.BatchSize,
		TaggingScheme: scheme,
		Dictionary:    dict,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	splitter, err := tokenizer.New(cfg.Tagger.Splitter, cfg.Paths.SPMModel)
	if err != nil {
		return nil, err
	}

	logger.Info("tagger ready",
		"backend", cfg.Tagger.Backend,
		"tags", tags.Len(),
		"crf", engine.UseCRF(),
		"dictionary", dict.Len())

	return &Service{
		engine:     engine,
		splitter:   splitter,
		normalizer: text.Normalizer{FoldWidth: cfg.Tagger.FoldWidth},
		close:      func() {},
	}, nil
}

func (s *Service) Engine() *Engine { return s.engine }

// Split normalizes raw text and splits each line into tokens.
func (s *Service) Split(raw string) ([][]string, error) {
	normalized, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	lines := text.Lines(normalized)
	out := make([][]string, 0, len(lines))

	for _, line := range lines {
		tokens, err := s.splitter.Split(line)
		if err != nil {
			return nil, err
		}

		out = append(out, tokens)
	}

	return out, nil
}

// TagText splits raw text into sentences of tokens and tags them.
func (s *Service) TagText(ctx context.Context, raw string) ([][]string, [][]string, error) {
	sentences, err := s.Split(raw)
	if err != nil {
		return nil, nil, err
	}

	tags, err := s.engine.Predict(ctx, sentences, 0)
	if err != nil {
		return nil, nil, err
	}

	return sentences, tags, nil
}

func (s *Service) Close() {
	if s.close != nil {
		s.close()
	}
}
