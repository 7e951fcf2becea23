package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// UnknownToken is id 0 of every TokenIndex. Out-of-vocabulary tokens and
// padding both map to it.
const UnknownToken = "<unk>"

// TokenIndex maps input tokens to embedding rows.
type TokenIndex struct {
	tokens []string
	ids    map[string]int
}

// NewTokenIndex indexes tokens in first-seen order after UnknownToken.
func NewTokenIndex(tokens []string) *TokenIndex {
	idx := &TokenIndex{
		tokens: []string{UnknownToken},
		ids:    map[string]int{UnknownToken: 0},
	}

	for _, tok := range tokens {
		if _, ok := idx.ids[tok]; ok {
			continue
		}

		idx.ids[tok] = len(idx.tokens)
		idx.tokens = append(idx.tokens, tok)
	}

	return idx
}

// CollectTokens returns the distinct tokens of sentences in first-seen order.
func CollectTokens(sentences [][]string) []string {
	seen := make(map[string]struct{})

	var out []string

	for _, s := range sentences {
		for _, tok := range s {
			if _, ok := seen[tok]; ok {
				continue
			}

			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}

	return out
}

func (x *TokenIndex) Len() int { return len(x.tokens) }

// ID returns the row of tok, or 0 for unknown tokens.
func (x *TokenIndex) ID(tok string) int {
	return x.ids[tok]
}

// Encode maps a padded batch of tokens to ids, row-major [len(rows), maxLen].
func (x *TokenIndex) Encode(rows [][]string, maxLen int) []int64 {
	out := make([]int64, len(rows)*maxLen)
	for b, toks := range rows {
		for i, tok := range toks {
			out[b*maxLen+i] = int64(x.ID(tok))
		}
	}

	return out
}

// Save writes the index as a JSON array.
func (x *TokenIndex) Save(path string) error {
	data, err := json.Marshal(x.tokens)
	if err != nil {
		return fmt.Errorf("model: encode tokens: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("model: write %s: %w", path, err)
	}

	return nil
}

// LoadTokenIndex reads an index written by Save.
func LoadTokenIndex(path string) (*TokenIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", path, err)
	}

	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("model: decode %s: %w", path, err)
	}

	if len(tokens) == 0 || tokens[0] != UnknownToken {
		return nil, fmt.Errorf("model: %s must start with %q", path, UnknownToken)
	}

	idx := NewTokenIndex(tokens[1:])
	if idx.Len() != len(tokens) {
		return nil, fmt.Errorf("model: %s has duplicate tokens", path)
	}

	return idx, nil
}
