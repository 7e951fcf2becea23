// Package text prepares raw request text before it is split into tokens.
package text

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

// Normalizer applies NFC, unifies line endings to \n and trims surrounding
// whitespace. FoldWidth additionally maps full-width forms such as "ＡＢＣ１"
// or the ideographic space to their narrow equivalents.
type Normalizer struct {
	FoldWidth bool
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func (n Normalizer) Normalize(s string) (string, error) {
	s = norm.NFC.String(s)
	if n.FoldWidth {
		s = width.Fold.String(s)
	}

	s = strings.TrimSpace(newlines.Replace(s))
	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}

// Normalize uses the zero Normalizer.
func Normalize(s string) (string, error) { return Normalizer{}.Normalize(s) }

// Lines splits normalized text into its non-blank lines, one sentence each.
func Lines(s string) []string {
	var out []string

	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}

	return out
}
