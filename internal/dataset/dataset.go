// Package dataset holds tagged samples and turns them into padded batches.
package dataset

import (
	"errors"
	"fmt"

	"github.com/example/go-tagger/internal/vocab"
)

var (
	// ErrTagCount is returned when a labelled sample has a different number of
	// tags than tokens.
	ErrTagCount = errors.New("dataset: tag count does not match token count")
	// ErrUnknownTag is returned when a gold tag is missing from the vocabulary.
	ErrUnknownTag = errors.New("dataset: unknown tag")
)

// Sample is one sentence. Index is its position in the caller's collection
// and survives bucketing so results can be put back in order.
type Sample struct {
	Tokens []string
	Tags   []string
	Index  int
}

// Batch is a group of samples padded to MaxLen. Mask[b][i] is true for the
// first len(Samples[b].Tokens) positions. TagIDs is nil for unlabelled
// batches; padded positions hold 0.
type Batch struct {
	Samples []Sample
	Tokens  [][]string
	TagIDs  [][]int
	Mask    [][]bool
	Index   []int
	MaxLen  int
}

// Len returns the number of samples.
func (b *Batch) Len() int { return len(b.Samples) }

// Lengths returns the valid length of each sample.
func (b *Batch) Lengths() []int {
	out := make([]int, len(b.Tokens))
	for i, toks := range b.Tokens {
		out[i] = len(toks)
	}

	return out
}

// Labelled reports whether gold tag ids are present.
func (b *Batch) Labelled() bool { return b.TagIDs != nil }

// NewBatch pads samples into a batch. When tags is non-nil every sample must
// carry one gold tag per token and TagIDs is filled.
func NewBatch(samples []Sample, tags *vocab.Vocabulary) (*Batch, error) {
	b := &Batch{
		Samples: samples,
		Tokens:  make([][]string, len(samples)),
		Mask:    make([][]bool, len(samples)),
		Index:   make([]int, len(samples)),
	}

	for _, s := range samples {
		b.MaxLen = max(b.MaxLen, len(s.Tokens))
	}

	if tags != nil {
		b.TagIDs = make([][]int, len(samples))
	}

	for i, s := range samples {
		b.Tokens[i] = s.Tokens
		b.Index[i] = s.Index

		mask := make([]bool, b.MaxLen)
		for j := range s.Tokens {
			mask[j] = true
		}

		b.Mask[i] = mask

		if tags == nil {
			continue
		}

		if len(s.Tags) != len(s.Tokens) {
			return nil, fmt.Errorf("%w: sample %d has %d tokens and %d tags", ErrTagCount, s.Index, len(s.Tokens), len(s.Tags))
		}

		ids := make([]int, b.MaxLen)
		for j, tag := range s.Tags {
			id, ok := tags.ID(tag)
			if !ok {
				return nil, fmt.Errorf("%w: %q in sample %d", ErrUnknownTag, tag, s.Index)
			}

			ids[j] = id
		}

		b.TagIDs[i] = ids
	}

	return b, nil
}

// CollectTags returns every distinct gold tag in first-seen order.
func CollectTags(samples []Sample) []string {
	seen := make(map[string]struct{})

	var out []string

	for _, s := range samples {
		for _, tag := range s.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}

			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}

	return out
}

// FromTokens wraps unlabelled sentences as samples indexed by position.
func FromTokens(sentences [][]string) []Sample {
	out := make([]Sample, len(sentences))
	for i, toks := range sentences {
		out[i] = Sample{Tokens: toks, Index: i}
	}

	return out
}
