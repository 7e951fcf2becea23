package trie

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Decode reads a JSON object dictionary. Keys are split on whitespace into a
// token tuple. A string value is broadcast over the key; an array value must
// carry one tag per key token.
//
//	{"HanLP": "NT", "的 希望": ["补语成分", "名词"]}
func Decode(r io.Reader) (*TupleTrie, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("trie: decode dictionary: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	b := NewBuilder()
	for _, k := range keys {
		key := strings.Fields(k)

		var tag *string
		if err := json.Unmarshal(raw[k], &tag); err == nil && tag != nil {
			b.AddTag(*tag, key...)
			continue
		}

		tags, ok := stringArray(raw[k])
		if !ok {
			return nil, fmt.Errorf("trie: value for %q must be a string or an array of strings", k)
		}

		b.Add(key, tags)
	}

	return b.Build()
}

// stringArray decodes a JSON array of strings. Null, and arrays holding null,
// are rejected.
func stringArray(msg json.RawMessage) ([]string, bool) {
	var elems []*string
	if err := json.Unmarshal(msg, &elems); err != nil || elems == nil {
		return nil, false
	}

	tags := make([]string, len(elems))
	for i, e := range elems {
		if e == nil {
			return nil, false
		}

		tags[i] = *e
	}

	return tags, true
}

// LoadFile reads a JSON dictionary from path.
func LoadFile(path string) (*TupleTrie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trie: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}
