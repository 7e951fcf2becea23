package trie

import "fmt"

// Builder collects dictionary entries and validates them once. Build returns
// an immutable TupleTrie; the builder may be reused afterwards.
type Builder struct {
	entries []Entry
	err     error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers a key tuple with a value tuple of the same length. The first
// error is kept and reported by Build.
func (b *Builder) Add(key, value []string) *Builder {
	return b.add(key, value, false)
}

// AddTag registers a key whose every token receives tag.
func (b *Builder) AddTag(tag string, key ...string) *Builder {
	return b.add(key, []string{tag}, true)
}

func (b *Builder) add(key, value []string, broadcast bool) *Builder {
	if b.err != nil {
		return b
	}

	entry, err := normalize(key, value, broadcast)
	if err != nil {
		b.err = err
		return b
	}

	b.entries = append(b.entries, entry)

	return b
}

// Build validates all entries and returns the trie. Later entries for an
// identical key replace earlier ones.
func (b *Builder) Build() (*TupleTrie, error) {
	if b.err != nil {
		return nil, b.err
	}

	t := &TupleTrie{root: newNode()}
	for _, e := range b.entries {
		n := t.root
		for _, tok := range e.Key {
			child := n.children[tok]
			if child == nil {
				child = newNode()
				n.children[tok] = child
			}

			n = child
		}

		if n.value == nil {
			t.size++
		}

		n.value = e.Value
	}

	return t, nil
}

func normalize(key, value []string, broadcast bool) (Entry, error) {
	if len(key) == 0 {
		return Entry{}, ErrEmptyKey
	}

	k := append([]string(nil), key...)

	switch {
	case broadcast && len(value) == 1:
		v := make([]string, len(k))
		for i := range v {
			v[i] = value[0]
		}

		return Entry{Key: k, Value: v}, nil
	case len(value) != len(k):
		return Entry{}, fmt.Errorf("%w: key %q has %d tokens, value %q has %d tags",
			ErrLengthMismatch, k, len(k), value, len(value))
	default:
		return Entry{Key: k, Value: append([]string(nil), value...)}, nil
	}
}

// FromMap builds a trie where each key is a single token mapped to one tag.
func FromMap(m map[string]string) (*TupleTrie, error) {
	b := NewBuilder()
	for k, v := range m {
		b.AddTag(v, k)
	}

	return b.Build()
}

// FromEntries builds a trie from already split key/value tuples.
func FromEntries(entries []Entry) (*TupleTrie, error) {
	b := NewBuilder()
	for _, e := range entries {
		b.Add(e.Key, e.Value)
	}

	return b.Build()
}
