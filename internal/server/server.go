package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-tagger/internal/config"
	"github.com/example/go-tagger/internal/tagger"
	"github.com/example/go-tagger/internal/trie"
)

// RequestIDHeader carries the request ID echoed on every response.
const RequestIDHeader = "X-Request-Id"

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Tagger tags pre-tokenized sentences and holds the override dictionary.
type Tagger interface {
	Predict(ctx context.Context, input [][]string, batchSize int) ([][]string, error)
	TokensFromRecords(records []map[string][]string) ([][]string, error)
	Dictionary() *trie.TupleTrie
	SetDictionary(d *trie.TupleTrie)
}

// TextSplitter turns raw text into sentences of tokens.
type TextSplitter interface {
	Split(raw string) ([][]string, error)
}

var (
	_ Tagger       = (*tagger.Engine)(nil)
	_ TextSplitter = (*tagger.Service)(nil)
)

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTokens      int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTokens:      4096,
		workers:        2,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTokens caps the total number of tokens in one POST /tag request.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithWorkers sets the maximum number of concurrent predictions. Zero
// disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request prediction deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	tagger   Tagger
	splitter TextSplitter
	opts     options
	sem      chan struct{}
	log      *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, POST /tag and
// GET|PUT /dictionary. splitter may be nil, in which case text requests are
// rejected.
func NewHandler(tg Tagger, splitter TextSplitter, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		tagger:   tg,
		splitter: splitter,
		opts:     opts,
		log:      opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/tag", h.handleTag)
	mux.HandleFunc("/dictionary", h.handleDictionary)

	return withRequestID(mux)
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// Health is the body of GET /health.
type Health struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	DictionaryEntries int    `json:"dictionary_entries"`
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := Health{Status: "ok", Version: buildVersion()}
	if h.tagger != nil {
		health.DictionaryEntries = h.tagger.Dictionary().Len()
	}

	writeJSON(w, http.StatusOK, health)
}

// tagRequest carries exactly one of its fields.
type tagRequest struct {
	Tokens  [][]string            `json:"tokens"`
	Samples []map[string][]string `json:"samples"`
	Text    string                `json:"text"`
}

type tagResponse struct {
	Tokens [][]string `json:"tokens"`
	Tags   [][]string `json:"tags"`
}

func (h *handler) handleTag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sentences, status, err := h.sentences(req)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	total := 0
	for _, s := range sentences {
		total += len(s)
	}

	if total > h.opts.maxTokens {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request exceeds maximum of %d tokens", h.opts.maxTokens))
		return
	}

	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	tags, err := h.tagger.Predict(ctx, sentences, 0)
	durationMS := time.Since(start).Milliseconds()

	attrs := []any{
		slog.String("request_id", RequestID(r.Context())),
		slog.Int("sentences", len(sentences)),
		slog.Int("tokens", total),
		slog.Int64("duration_ms", durationMS),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.log.WarnContext(r.Context(), "tagging timed out", attrs...)
			writeError(w, http.StatusGatewayTimeout, "tagging timed out")
			return
		}

		h.log.ErrorContext(r.Context(), "tagging failed", attrs...)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "tagging complete", attrs...)

	writeJSON(w, http.StatusOK, tagResponse{Tokens: sentences, Tags: tags})
}

func (h *handler) sentences(req tagRequest) ([][]string, int, error) {
	set := 0
	for _, ok := range []bool{req.Tokens != nil, req.Samples != nil, req.Text != ""} {
		if ok {
			set++
		}
	}

	if set != 1 {
		return nil, http.StatusBadRequest, errors.New("exactly one of tokens, samples or text is required")
	}

	switch {
	case req.Tokens != nil:
		return req.Tokens, 0, nil
	case req.Samples != nil:
		sentences, err := h.tagger.TokensFromRecords(req.Samples)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}

		return sentences, 0, nil
	default:
		if h.splitter == nil {
			return nil, http.StatusBadRequest, errors.New("text input is not supported")
		}

		sentences, err := h.splitter.Split(req.Text)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}

		return sentences, 0, nil
	}
}

type dictionaryEntry struct {
	Key   []string `json:"key"`
	Value []string `json:"value"`
}

type dictionaryResponse struct {
	Size    int               `json:"size"`
	Entries []dictionaryEntry `json:"entries"`
}

func (h *handler) handleDictionary(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		if !h.replaceDictionary(w, r) {
			return
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	dict := h.tagger.Dictionary()
	resp := dictionaryResponse{Size: dict.Len(), Entries: []dictionaryEntry{}}

	for _, e := range dict.Entries() {
		resp.Entries = append(resp.Entries, dictionaryEntry{Key: e.Key, Value: e.Value})
	}

	writeJSON(w, http.StatusOK, resp)
}

// replaceDictionary swaps in the dictionary from the request body. A null
// body or an empty object clears it.
func (h *handler) replaceDictionary(w http.ResponseWriter, r *http.Request) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}

	dict, err := trie.Decode(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}

	if dict.Len() == 0 {
		dict = nil
	}

	h.tagger.SetDictionary(dict)
	h.log.InfoContext(r.Context(), "dictionary replaced",
		slog.String("request_id", RequestID(r.Context())),
		slog.Int("entries", dict.Len()),
	)

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	svc             *tagger.Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a server for cfg. A nil svc is opened from cfg on Start and
// closed when Start returns.
func New(cfg config.Config, svc *tagger.Service) *Server {
	shutdown := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	return &Server{
		cfg:             cfg,
		svc:             svc,
		logger:          slog.Default(),
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger sets the logger for the service and request logs.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	svc := s.svc
	if svc == nil {
		var err error
		if svc, err = tagger.NewService(s.cfg, s.logger); err != nil {
			return fmt.Errorf("initialize tagger service: %w", err)
		}
		defer svc.Close()
	}

	h := NewHandler(svc.Engine(), svc,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTokens(s.cfg.Server.MaxTokens),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithLogger(s.logger),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("listening", slog.String("addr", s.cfg.Server.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP fetches GET /health from the server listening on addr.
func ProbeHTTP(ctx context.Context, addr string) (Health, error) {
	var health Health

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return health, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return health, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return health, fmt.Errorf("health %s: %s", addr, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, fmt.Errorf("health %s: decode: %w", addr, err)
	}

	return health, nil
}
