// Package vocab maps tag strings to integer ids and back, and infers the
// span-encoding scheme of a tag set.
package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrUnknownID is returned when a decoded id has no tag. The tag
	// vocabulary is closed, so this signals a model/vocabulary mismatch.
	ErrUnknownID = errors.New("vocab: id out of range")
	// ErrLocked is returned by Add after Lock.
	ErrLocked = errors.New("vocab: vocabulary is locked")
)

// Vocabulary is a bidirectional tag <-> id mapping. It is mutable while
// collecting tags from a training set and read-only once locked.
type Vocabulary struct {
	idToTag []string
	tagToID map[string]int
	locked  bool
}

// New returns an empty, unlocked vocabulary.
func New() *Vocabulary {
	return &Vocabulary{tagToID: make(map[string]int)}
}

// Build returns a locked vocabulary holding tags in first-seen order.
func Build(tags []string) *Vocabulary {
	v := New()
	for _, t := range tags {
		_, _ = v.Add(t)
	}

	v.Lock()

	return v
}

// Add inserts tag if absent and returns its id.
func (v *Vocabulary) Add(tag string) (int, error) {
	if id, ok := v.tagToID[tag]; ok {
		return id, nil
	}

	if v.locked {
		return 0, fmt.Errorf("%w: cannot add %q", ErrLocked, tag)
	}

	id := len(v.idToTag)
	v.idToTag = append(v.idToTag, tag)
	v.tagToID[tag] = id

	return id, nil
}

// Lock freezes the vocabulary.
func (v *Vocabulary) Lock() { v.locked = true }

// Locked reports whether Lock has been called.
func (v *Vocabulary) Locked() bool { return v.locked }

// Len returns the number of tags.
func (v *Vocabulary) Len() int { return len(v.idToTag) }

// ID returns the id of tag.
func (v *Vocabulary) ID(tag string) (int, bool) {
	id, ok := v.tagToID[tag]
	return id, ok
}

// Tag returns the tag string for id.
func (v *Vocabulary) Tag(id int) (string, error) {
	if id < 0 || id >= len(v.idToTag) {
		return "", fmt.Errorf("%w: %d (vocabulary size %d)", ErrUnknownID, id, len(v.idToTag))
	}

	return v.idToTag[id], nil
}

// Tags returns a copy of all tags in id order.
func (v *Vocabulary) Tags() []string {
	return append([]string(nil), v.idToTag...)
}

// IDsToTags converts decoded id rows into tag strings. Each row is truncated
// to its length so trailing padding ids are ignored. Rows shorter than their
// length are an error.
func (v *Vocabulary) IDsToTags(ids [][]int, lengths []int) ([][]string, error) {
	if len(ids) != len(lengths) {
		return nil, fmt.Errorf("vocab: %d id rows but %d lengths", len(ids), len(lengths))
	}

	out := make([][]string, len(ids))
	for b, row := range ids {
		n := lengths[b]
		if n > len(row) {
			return nil, fmt.Errorf("vocab: row %d has %d ids, length %d", b, len(row), n)
		}

		tags := make([]string, n)
		for i, id := range row[:n] {
			tag, err := v.Tag(id)
			if err != nil {
				return nil, fmt.Errorf("row %d position %d: %w", b, i, err)
			}

			tags[i] = tag
		}

		out[b] = tags
	}

	return out, nil
}

type vocabFile struct {
	Tags []string `json:"tags"`
}

// Save writes the vocabulary as JSON.
func (v *Vocabulary) Save(path string) error {
	data, err := json.MarshalIndent(vocabFile{Tags: v.idToTag}, "", "  ")
	if err != nil {
		return fmt.Errorf("vocab: encode: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("vocab: write %s: %w", path, err)
	}

	return nil
}

// Load reads a vocabulary written by Save. The result is locked.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", path, err)
	}

	var f vocabFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vocab: decode %s: %w", path, err)
	}

	if len(f.Tags) == 0 {
		return nil, fmt.Errorf("vocab: %s has no tags", path)
	}

	v := Build(f.Tags)
	if v.Len() != len(f.Tags) {
		return nil, fmt.Errorf("vocab: %s has duplicate tags", path)
	}

	return v, nil
}
