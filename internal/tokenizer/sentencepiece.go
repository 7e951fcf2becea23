package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"strings"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// ErrEmptyPath is returned when NewSentencePiece is called with an empty path.
var ErrEmptyPath = errors.New("tokenizer model path must not be empty")

// wordStart is the SentencePiece word-start marker.
const wordStart = "▁"

// SentencePiece splits text into SentencePiece pieces using a pure-Go UNIGRAM
// model. Word-start markers are stripped and marker-only pieces dropped.
type SentencePiece struct {
	proc gosp.Sentencepiece
}

// NewSentencePiece loads a SentencePiece model from the given path.
func NewSentencePiece(modelPath string) (*SentencePiece, error) {
	if modelPath == "" {
		return nil, ErrEmptyPath
	}

	proc, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, fmt.Errorf("load sentencepiece model %q: %w", modelPath, err)
	}

	return &SentencePiece{proc: proc}, nil
}

// NewSentencePieceFromBytes loads a SentencePiece model from raw bytes.
// The upstream library only exposes a file-path API, so the bytes go
// through a temporary file.
func NewSentencePieceFromBytes(data []byte) (*SentencePiece, error) {
	if len(data) == 0 {
		return nil, errors.New("tokenizer model data must not be empty")
	}

	f, err := os.CreateTemp("", "sp-*.model")
	if err != nil {
		return nil, fmt.Errorf("create temp sentencepiece file: %w", err)
	}

	defer func() { _ = os.Remove(f.Name()) }() // best-effort temp file cleanup

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write tokenizer model bytes: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close tokenizer temp file: %w", err)
	}

	return NewSentencePiece(f.Name())
}

func (t *SentencePiece) Split(text string) ([]string, error) {
	if text == "" {
		return []string{}, nil
	}

	pieces := t.proc.Tokenize(text)
	out := make([]string, 0, len(pieces))

	for _, p := range pieces {
		if tok := strings.TrimPrefix(p.Text, wordStart); tok != "" {
			out = append(out, tok)
		}
	}

	return out, nil
}
