package trie

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func mustBuild(t *testing.T, b *Builder) *TupleTrie {
	t.Helper()

	tr, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	return tr
}

func TestLongestMatchWins(t *testing.T) {
	tr := mustBuild(t, NewBuilder().
		Add([]string{"a", "b"}, []string{"X1", "X2"}).
		Add([]string{"a", "b", "c"}, []string{"Y1", "Y2", "Y3"}))

	tags := []string{"O", "O", "O", "O"}

	n, err := tr.Apply([]string{"a", "b", "c", "d"}, tags)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if n != 1 {
		t.Fatalf("matches = %d; want 1", n)
	}

	want := []string{"Y1", "Y2", "Y3", "O"}
	if !reflect.DeepEqual(tags, want) {
		t.Fatalf("tags = %v; want %v", tags, want)
	}
}

func TestTokenize(t *testing.T) {
	tr := mustBuild(t, NewBuilder().
		Add([]string{"的", "希望"}, []string{"补语成分", "名词"}).
		AddTag("动词", "希望"))

	tokens := strings.Fields("我 的 希望 是 希望 张晚霞")

	tests := []struct {
		name   string
		tokens []string
		want   []Match
	}{
		{
			name:   "conditional and single token keys",
			tokens: tokens,
			want: []Match{
				{Begin: 1, End: 3, Tags: []string{"补语成分", "名词"}},
				{Begin: 4, End: 5, Tags: []string{"动词"}},
			},
		},
		{
			name:   "no match",
			tokens: []string{"我", "是"},
			want:   nil,
		},
		{
			name:   "empty sentence",
			tokens: nil,
			want:   nil,
		},
		{
			name:   "prefix without terminal falls back to shorter key",
			tokens: []string{"的", "的", "希望"},
			want: []Match{
				{Begin: 1, End: 3, Tags: []string{"补语成分", "名词"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.Tokenize(tt.tokens)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Tokenize = %+v; want %+v", got, tt.want)
			}
		})
	}
}

func TestMatchesDoNotOverlap(t *testing.T) {
	tr := mustBuild(t, NewBuilder().
		AddTag("AB", "a", "b").
		AddTag("BC", "b", "c"))

	got := tr.Tokenize([]string{"a", "b", "c"})

	want := []Match{{Begin: 0, End: 2, Tags: []string{"AB", "AB"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %+v; want %+v", got, want)
	}
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
		wantErr error
	}{
		{
			name:    "empty key",
			builder: NewBuilder().AddTag("X"),
			wantErr: ErrEmptyKey,
		},
		{
			name:    "tuple value shorter than key",
			builder: NewBuilder().Add([]string{"a", "b"}, []string{"X"}),
			wantErr: ErrLengthMismatch,
		},
		{
			name:    "tuple value longer than key",
			builder: NewBuilder().Add([]string{"a"}, []string{"X", "Y"}),
			wantErr: ErrLengthMismatch,
		},
		{
			name: "first error is kept",
			builder: NewBuilder().
				Add([]string{"a"}, nil).
				AddTag("X"),
			wantErr: ErrLengthMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build error = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBroadcastTag(t *testing.T) {
	tr := mustBuild(t, NewBuilder().AddTag("NR", "张", "晚霞"))

	got, ok := tr.Get("张", "晚霞")
	if !ok {
		t.Fatal("key not found")
	}

	if !reflect.DeepEqual(got, []string{"NR", "NR"}) {
		t.Fatalf("value = %v; want [NR NR]", got)
	}

	if _, ok := tr.Get("张"); ok {
		t.Fatal("prefix without value must not be found")
	}
}

func TestLaterEntryReplacesEarlier(t *testing.T) {
	tr := mustBuild(t, NewBuilder().AddTag("A", "x").AddTag("B", "x"))

	if tr.Len() != 1 {
		t.Fatalf("Len = %d; want 1", tr.Len())
	}

	got, _ := tr.Get("x")
	if got[0] != "B" {
		t.Fatalf("value = %v; want [B]", got)
	}
}

func TestApplyLengthMismatch(t *testing.T) {
	tr := mustBuild(t, NewBuilder().AddTag("X", "a"))

	if _, err := tr.Apply([]string{"a", "b"}, []string{"O"}); err == nil {
		t.Fatal("expected error for mismatched tags")
	}
}

func TestNilTrieIsInert(t *testing.T) {
	var tr *TupleTrie

	if tr.Len() != 0 {
		t.Fatal("nil trie must be empty")
	}

	if m := tr.Tokenize([]string{"a"}); m != nil {
		t.Fatalf("Tokenize on nil trie = %v", m)
	}
}

func TestFromMap(t *testing.T) {
	tr, err := FromMap(map[string]string{"HanLP": "NT"})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}

	tags := []string{"NR", "P", "NN"}
	if _, err := tr.Apply([]string{"HanLP", "为", "生产"}, tags); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if tags[0] != "NT" {
		t.Fatalf("tags[0] = %q; want NT", tags[0])
	}
}

func TestEntriesSorted(t *testing.T) {
	tr, err := FromEntries([]Entry{
		{Key: []string{"b"}, Value: []string{"B"}},
		{Key: []string{"a", "c"}, Value: []string{"A", "C"}},
		{Key: []string{"a"}, Value: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("FromEntries: %v", err)
	}

	got := tr.Entries()
	if len(got) != 3 {
		t.Fatalf("len = %d; want 3", len(got))
	}

	order := []string{"a", "a c", "b"}
	for i, e := range got {
		if strings.Join(e.Key, " ") != order[i] {
			t.Errorf("entry %d key = %v; want %q", i, e.Key, order[i])
		}
	}
}

func TestDecode(t *testing.T) {
	tr, err := Decode(strings.NewReader(`{"HanLP": "NT", "的 希望": ["补语成分", "名词"], "张 晚霞": "NR"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if tr.Len() != 3 {
		t.Fatalf("Len = %d; want 3", tr.Len())
	}

	got, _ := tr.Get("张", "晚霞")
	if !reflect.DeepEqual(got, []string{"NR", "NR"}) {
		t.Fatalf("broadcast value = %v", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not an object", `["a"]`},
		{"array value with wrong length", `{"a b": ["X"]}`},
		{"numeric value", `{"a": 1}`},
		{"blank key", `{"  ": "X"}`},
		{"null value", `{"HanLP": null}`},
		{"null inside array", `{"a b": ["X", null]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.json")
	if err := os.WriteFile(path, []byte(`{"a": "X"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tr, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if tr.Len() != 1 {
		t.Fatalf("Len = %d; want 1", tr.Len())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
