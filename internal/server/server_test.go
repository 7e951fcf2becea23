package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/example/go-tagger/internal/server"
	"github.com/example/go-tagger/internal/trie"
)

var errPredictFailed = errors.New("model exploded")

// stubTagger tags every token with "T" unless predict is set.
type stubTagger struct {
	mu      sync.Mutex
	dict    *trie.TupleTrie
	err     error
	predict func(ctx context.Context, input [][]string) ([][]string, error)
}

func (s *stubTagger) Predict(ctx context.Context, input [][]string, _ int) ([][]string, error) {
	if s.predict != nil {
		return s.predict(ctx, input)
	}

	if s.err != nil {
		return nil, s.err
	}

	out := make([][]string, len(input))
	for i, sent := range input {
		out[i] = make([]string, len(sent))
		for j := range sent {
			out[i][j] = "T"
		}
	}

	return out, nil
}

func (s *stubTagger) TokensFromRecords(records []map[string][]string) ([][]string, error) {
	out := make([][]string, len(records))
	for i, r := range records {
		tokens, ok := r["token"]
		if !ok {
			return nil, errors.New(`missing "token"`)
		}

		out[i] = tokens
	}

	return out, nil
}

func (s *stubTagger) Dictionary() *trie.TupleTrie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dict
}

func (s *stubTagger) SetDictionary(d *trie.TupleTrie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dict = d
}

// stubSplitter splits on whitespace, one sentence per call.
type stubSplitter struct{}

func (stubSplitter) Split(raw string) ([][]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty text")
	}

	return [][]string{strings.Fields(raw)}, nil
}

func postTag(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tag", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	return rec
}

func decodeTagResponse(t *testing.T, rec *httptest.ResponseRecorder) (tokens, tags [][]string) {
	t.Helper()

	var resp struct {
		Tokens [][]string `json:"tokens"`
		Tags   [][]string `json:"tags"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	return resp.Tokens, resp.Tags
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := server.NewHandler(&stubTagger{}, stubSplitter{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body server.Health
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body.Status != "ok" || body.Version == "" {
		t.Errorf("health = %+v", body)
	}

	if body.DictionaryEntries != 0 {
		t.Errorf("dictionary_entries = %d, want 0 without a dictionary", body.DictionaryEntries)
	}
}

func TestHealth_CountsDictionaryEntries(t *testing.T) {
	dict, err := trie.FromMap(map[string]string{"a": "X", "b": "Y"})
	if err != nil {
		t.Fatal(err)
	}

	h := server.NewHandler(&stubTagger{dict: dict}, stubSplitter{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body server.Health
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body.DictionaryEntries != 2 {
		t.Errorf("dictionary_entries = %d, want 2", body.DictionaryEntries)
	}
}

// ---------------------------------------------------------------------------
// POST /tag
// ---------------------------------------------------------------------------

func TestTag_Inputs(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantTokens [][]string
	}{
		{
			name:       "tokens",
			body:       `{"tokens":[["HanLP","为","生产"],["z"]]}`,
			wantTokens: [][]string{{"HanLP", "为", "生产"}, {"z"}},
		},
		{
			name:       "samples",
			body:       `{"samples":[{"token":["a","b"]}]}`,
			wantTokens: [][]string{{"a", "b"}},
		},
		{
			name:       "text",
			body:       `{"text":"a b c"}`,
			wantTokens: [][]string{{"a", "b", "c"}},
		},
		{
			name:       "empty sentence",
			body:       `{"tokens":[[]]}`,
			wantTokens: [][]string{{}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := server.NewHandler(&stubTagger{}, stubSplitter{})

			rec := postTag(t, h, tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
			}

			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			tokens, tags := decodeTagResponse(t, rec)
			if !reflect.DeepEqual(tokens, tc.wantTokens) {
				t.Fatalf("tokens = %q, want %q", tokens, tc.wantTokens)
			}

			if len(tags) != len(tokens) {
				t.Fatalf("got %d tag rows for %d sentences", len(tags), len(tokens))
			}

			for i := range tags {
				if len(tags[i]) != len(tokens[i]) {
					t.Errorf("sentence %d: %d tags for %d tokens", i, len(tags[i]), len(tokens[i]))
				}
			}
		})
	}
}

func TestTag_BadRequests(t *testing.T) {
	cases := []struct {
		name     string
		splitter server.TextSplitter
		body     string
	}{
		{"invalid json", stubSplitter{}, `{`},
		{"no input", stubSplitter{}, `{}`},
		{"two inputs", stubSplitter{}, `{"tokens":[["a"]],"text":"a"}`},
		{"bad record", stubSplitter{}, `{"samples":[{"word":["a"]}]}`},
		{"blank text", stubSplitter{}, `{"text":"   "}`},
		{"text without splitter", nil, `{"text":"a b"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := server.NewHandler(&stubTagger{}, tc.splitter)

			rec := postTag(t, h, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("want 400, got %d", rec.Code)
			}

			var errBody map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&errBody); err != nil {
				t.Fatalf("decode error body: %v", err)
			}

			if errBody["error"] == "" {
				t.Error("want non-empty error field")
			}
		})
	}
}

func TestTag_MethodNotAllowed(t *testing.T) {
	h := server.NewHandler(&stubTagger{}, stubSplitter{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tag", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

func TestTag_TaggerErrorReturns500(t *testing.T) {
	h := server.NewHandler(&stubTagger{err: errPredictFailed}, stubSplitter{})

	rec := postTag(t, h, `{"tokens":[["a"]]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// request IDs
// ---------------------------------------------------------------------------

func TestRequestID(t *testing.T) {
	h := server.NewHandler(&stubTagger{}, stubSplitter{})

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Header().Get(server.RequestIDHeader) == "" {
			t.Fatal("want a generated request ID")
		}
	})

	t.Run("echoed", func(t *testing.T) {
		const id = "6f1c2b1e-8a55-4c8e-9d0b-3f1f5d0c2a11"

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(server.RequestIDHeader, id)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get(server.RequestIDHeader); got != id {
			t.Fatalf("request ID = %q, want %q", got, id)
		}
	})

	t.Run("malformed replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(server.RequestIDHeader, "not a uuid")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get(server.RequestIDHeader)
		if got == "" || got == "not a uuid" {
			t.Fatalf("request ID = %q, want a fresh one", got)
		}
	})
}

// ---------------------------------------------------------------------------
// /dictionary
// ---------------------------------------------------------------------------

type dictionaryBody struct {
	Size    int `json:"size"`
	Entries []struct {
		Key   []string `json:"key"`
		Value []string `json:"value"`
	} `json:"entries"`
}

func doDictionary(t *testing.T, h http.Handler, method, body string) (int, dictionaryBody) {
	t.Helper()

	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, "/dictionary", nil)
	} else {
		r = httptest.NewRequest(method, "/dictionary", bytes.NewBufferString(body))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	var out dictionaryBody
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("decode body: %v", err)
		}
	}

	return rec.Code, out
}

func TestDictionary_ReplaceListAndClear(t *testing.T) {
	tg := &stubTagger{}
	h := server.NewHandler(tg, stubSplitter{})

	code, body := doDictionary(t, h, http.MethodGet, "")
	if code != http.StatusOK || body.Size != 0 || len(body.Entries) != 0 {
		t.Fatalf("empty GET = %d %+v", code, body)
	}

	code, body = doDictionary(t, h, http.MethodPut, `{"HanLP": "NT", "的 希望": ["补语成分", "名词"]}`)
	if code != http.StatusOK {
		t.Fatalf("PUT = %d", code)
	}

	if body.Size != 2 || tg.Dictionary().Len() != 2 {
		t.Fatalf("size = %d, tagger has %d", body.Size, tg.Dictionary().Len())
	}

	if got, ok := tg.Dictionary().Get("的", "希望"); !ok || !reflect.DeepEqual(got, []string{"补语成分", "名词"}) {
		t.Fatalf("Get(的 希望) = %q, %v", got, ok)
	}

	code, body = doDictionary(t, h, http.MethodGet, "")
	if code != http.StatusOK || len(body.Entries) != 2 {
		t.Fatalf("GET after PUT = %d %+v", code, body)
	}

	for _, clear := range []string{`null`, `{}`} {
		seed, err := trie.FromMap(map[string]string{"a": "X"})
		if err != nil {
			t.Fatalf("FromMap: %v", err)
		}

		tg.SetDictionary(seed)

		code, body = doDictionary(t, h, http.MethodPut, clear)
		if code != http.StatusOK || body.Size != 0 {
			t.Fatalf("PUT %s = %d %+v", clear, code, body)
		}

		if tg.Dictionary() != nil {
			t.Fatalf("PUT %s left a dictionary installed", clear)
		}
	}
}

func TestDictionary_Errors(t *testing.T) {
	cases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"invalid json", http.MethodPut, `{`, http.StatusBadRequest},
		{"bad value", http.MethodPut, `{"a": 1}`, http.StatusBadRequest},
		{"length mismatch", http.MethodPut, `{"a b": ["X"]}`, http.StatusBadRequest},
		{"method", http.MethodDelete, "", http.StatusMethodNotAllowed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tg := &stubTagger{}
			h := server.NewHandler(tg, stubSplitter{})

			if code, _ := doDictionary(t, h, tc.method, tc.body); code != tc.want {
				t.Fatalf("want %d, got %d", tc.want, code)
			}

			if tg.Dictionary() != nil {
				t.Fatal("failed request must not install a dictionary")
			}
		})
	}
}
