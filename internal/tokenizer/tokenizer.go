// Package tokenizer splits sentences into the tokens a tagger consumes.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnknownSplitter is returned by New for an unsupported kind.
var ErrUnknownSplitter = errors.New("tokenizer: unknown splitter")

// Splitter turns one sentence into tokens.
type Splitter interface {
	Split(text string) ([]string, error)
}

// Whitespace splits on Unicode white space.
type Whitespace struct{}

func (Whitespace) Split(text string) ([]string, error) {
	return strings.Fields(text), nil
}

// Runes emits one token per non-space rune, the usual unit for Chinese
// character-level taggers.
type Runes struct{}

func (Runes) Split(text string) ([]string, error) {
	out := make([]string, 0, len(text))

	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}

		out = append(out, string(r))
	}

	return out, nil
}

// New returns the splitter for kind: "whitespace", "runes" or "sentencepiece".
// spmModel is only read for "sentencepiece".
func New(kind, spmModel string) (Splitter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "whitespace":
		return Whitespace{}, nil
	case "runes", "char":
		return Runes{}, nil
	case "sentencepiece", "spm":
		return NewSentencePiece(spmModel)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownSplitter, kind)
	}
}
