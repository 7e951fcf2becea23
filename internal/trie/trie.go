// Package trie implements the tag override dictionary: a trie keyed by token
// tuples whose terminal nodes carry a replacement tag tuple of the same
// length. Lookups use longest-prefix matching over a token sequence.
package trie

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrEmptyKey is returned when a dictionary key has no tokens.
	ErrEmptyKey = errors.New("trie: key must contain at least one token")
	// ErrLengthMismatch is returned when a value tuple does not have one tag
	// per key token.
	ErrLengthMismatch = errors.New("trie: value length does not match key length")
)

// Match is one dictionary hit over a token sequence. Tags replace
// tags[Begin:End].
type Match struct {
	Begin int
	End   int
	Tags  []string
}

// Entry is a normalized key/value pair.
type Entry struct {
	Key   []string
	Value []string
}

// TupleTrie is an immutable token-tuple trie. The zero value is not usable;
// build one with a Builder or one of the From* constructors.
type TupleTrie struct {
	root *node
	size int
}

type node struct {
	children map[string]*node
	value    []string // nil unless a key ends here
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Len returns the number of keys stored.
func (t *TupleTrie) Len() int {
	if t == nil {
		return 0
	}

	return t.size
}

// Get returns the value stored for an exact key.
func (t *TupleTrie) Get(key ...string) ([]string, bool) {
	if t == nil || len(key) == 0 {
		return nil, false
	}

	n := t.root
	for _, tok := range key {
		n = n.children[tok]
		if n == nil {
			return nil, false
		}
	}

	if n.value == nil {
		return nil, false
	}

	return append([]string(nil), n.value...), true
}

// LongestMatch returns the end offset and value of the longest key that is a
// prefix of tokens[begin:]. ok is false when no key starts at begin.
func (t *TupleTrie) LongestMatch(tokens []string, begin int) (end int, value []string, ok bool) {
	if t == nil || begin < 0 || begin >= len(tokens) {
		return 0, nil, false
	}

	n := t.root
	for i := begin; i < len(tokens); i++ {
		n = n.children[tokens[i]]
		if n == nil {
			break
		}

		if n.value != nil {
			end, value, ok = i+1, n.value, true
		}
	}

	return end, value, ok
}

// Tokenize scans tokens left to right and reports every non-overlapping
// longest match. After a hit the scan resumes at the match end, otherwise it
// advances by one token.
func (t *TupleTrie) Tokenize(tokens []string) []Match {
	if t.Len() == 0 {
		return nil
	}

	var matches []Match

	for begin := 0; begin < len(tokens); {
		end, value, ok := t.LongestMatch(tokens, begin)
		if !ok {
			begin++
			continue
		}

		matches = append(matches, Match{
			Begin: begin,
			End:   end,
			Tags:  append([]string(nil), value...),
		})
		begin = end
	}

	return matches
}

// Apply overwrites tags in place with every match found over tokens and
// returns the number of spans rewritten. tags must have the same length as
// tokens.
func (t *TupleTrie) Apply(tokens, tags []string) (int, error) {
	if len(tokens) != len(tags) {
		return 0, fmt.Errorf("trie: apply: %d tokens but %d tags", len(tokens), len(tags))
	}

	matches := t.Tokenize(tokens)
	for _, m := range matches {
		copy(tags[m.Begin:m.End], m.Tags)
	}

	return len(matches), nil
}

// Entries lists every key/value pair ordered by joined key.
func (t *TupleTrie) Entries() []Entry {
	if t.Len() == 0 {
		return nil
	}

	out := make([]Entry, 0, t.size)

	var walk func(n *node, prefix []string)
	walk = func(n *node, prefix []string) {
		if n.value != nil {
			out = append(out, Entry{
				Key:   append([]string(nil), prefix...),
				Value: append([]string(nil), n.value...),
			})
		}

		for tok, child := range n.children {
			walk(child, append(prefix, tok))
		}
	}
	walk(t.root, nil)

	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i].Key, "\x00") < strings.Join(out[j].Key, "\x00")
	})

	return out
}
