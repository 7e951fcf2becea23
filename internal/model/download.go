package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type DownloadOptions struct {
	// BaseURL is the directory URL holding checkpoint.lock.json and the
	// files it lists. See HubURL.
	BaseURL string
	OutDir  string
	Token   string
	Client  *http.Client
	Stdout  io.Writer
	// Concurrency bounds parallel file transfers. Zero means 4.
	Concurrency int
}

// ErrAccessDenied reports a 401 or 403 from the checkpoint host.
type ErrAccessDenied struct {
	URL string
}

func (e *ErrAccessDenied) Error() string {
	return fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", e.URL)
}

var sha256Hex = regexp.MustCompile(`(?i)^[0-9a-f]{64}$`)

// HubURL returns the Hugging Face resolve URL for a repository revision.
func HubURL(repo, revision string) string {
	if revision == "" {
		revision = "main"
	}

	return "https://huggingface.co/" + repo + "/resolve/" + revision
}

// Download fetches the checkpoint manifest at opts.BaseURL and every file it
// lists into opts.OutDir. Files already present with a matching checksum are
// skipped. The manifest is written last, so an interrupted download never
// leaves a directory that passes VerifyManifest.
func Download(ctx context.Context, opts DownloadOptions) (Manifest, error) {
	switch {
	case opts.BaseURL == "":
		return Manifest{}, errors.New("model: base URL is required")
	case opts.OutDir == "":
		return Manifest{}, errors.New("model: out dir is required")
	}

	d := downloader{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		dir:    opts.OutDir,
		token:  opts.Token,
		client: opts.Client,
		out:    &lockedWriter{w: opts.Stdout},
	}

	if d.client == nil {
		d.client = http.DefaultClient
	}

	if d.out.w == nil {
		d.out.w = io.Discard
	}

	raw, err := d.fetch(ctx, ManifestFile)
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("model: decode remote manifest: %w", err)
	}

	names, err := manifestNames(m)
	if err != nil {
		return Manifest{}, err
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("model: create out dir: %w", err)
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, name := range names {
		g.Go(func() error {
			return d.file(gctx, name, m.Files[name])
		})
	}

	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}

	manifestPath := filepath.Join(d.dir, ManifestFile)
	if err := os.WriteFile(manifestPath, raw, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("model: write manifest: %w", err)
	}

	d.out.printf("wrote %s\n", manifestPath)

	return m, nil
}

type downloader struct {
	base   string
	dir    string
	token  string
	client *http.Client
	out    *lockedWriter
}

// file brings one manifest entry into place unless it is already there.
func (d *downloader) file(ctx context.Context, name string, want FileRecord) error {
	local := filepath.Join(d.dir, filepath.FromSlash(name))
	expected := strings.ToLower(want.SHA256)

	ok, err := existingMatches(local, expected)
	if err != nil {
		return err
	}

	if ok {
		d.out.printf("skip %s (checksum match)\n", name)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("model: create local subdir: %w", err)
	}

	resp, err := d.get(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	d.out.printf("download %s -> %s\n", name, local)

	tmp, err := os.CreateTemp(filepath.Dir(local), "."+filepath.Base(local)+".*")
	if err != nil {
		return fmt.Errorf("model: create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	progress := &progressWriter{name: name, total: resp.ContentLength, out: d.out, last: time.Now()}

	n, err := io.Copy(io.MultiWriter(tmp, h, progress), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return fmt.Errorf("model: download %s: %w", name, err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected || (want.Size > 0 && n != want.Size) {
		return fmt.Errorf("%w: %s expected %s got %s", ErrChecksum, name, expected, actual)
	}

	if err := os.Rename(tmp.Name(), local); err != nil {
		return fmt.Errorf("model: move %s into place: %w", name, err)
	}

	d.out.printf("verified %s (sha256=%s)\n", name, actual)

	return nil
}

func (d *downloader) get(ctx context.Context, name string) (*http.Response, error) {
	url := d.base + "/" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("model: build request: %w", err)
	}

	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model: request %s: %w", url, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_ = resp.Body.Close()
		return nil, &ErrAccessDenied{URL: url}
	case resp.StatusCode/100 != 2:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("model: download %s: %s", url, resp.Status)
	}

	return resp, nil
}

func (d *downloader) fetch(ctx context.Context, name string) ([]byte, error) {
	resp, err := d.get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", name, err)
	}

	return b, nil
}

// manifestNames validates remote file records and returns them sorted.
func manifestNames(m Manifest) ([]string, error) {
	if len(m.Files) == 0 {
		return nil, errors.New("model: remote manifest lists no files")
	}

	names := make([]string, 0, len(m.Files))

	for name, rec := range m.Files {
		if name == ManifestFile || !filepath.IsLocal(filepath.FromSlash(name)) {
			return nil, fmt.Errorf("model: remote manifest has invalid file name %q", name)
		}

		if !sha256Hex.MatchString(rec.SHA256) {
			return nil, fmt.Errorf("model: remote manifest has invalid sha256 for %s", name)
		}

		names = append(names, name)
	}

	slices.Sort(names)

	return names, nil
}

// existingMatches reports whether path is a regular file with checksum
// expected. A missing file is not an error.
func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("model: stat existing file: %w", err)
	}

	if fi.IsDir() {
		return false, fmt.Errorf("model: expected file at %s, found directory", path)
	}

	actual, _, err := fileSHA256(path)
	if err != nil {
		return false, err
	}

	return actual == expected, nil
}

// lockedWriter serializes status lines from concurrent transfers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, _ = fmt.Fprintf(l.w, format, args...)
}

// progressWriter prints a progress line at most once per interval.
type progressWriter struct {
	name    string
	total   int64
	written int64
	out     *lockedWriter
	last    time.Time
}

const progressInterval = 700 * time.Millisecond

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))

	if time.Since(p.last) < progressInterval {
		return len(b), nil
	}

	p.last = time.Now()

	if p.total > 0 {
		p.out.printf("  %s: %.1f%% (%d/%d bytes)\n", p.name, float64(p.written)*100/float64(p.total), p.written, p.total)
	} else {
		p.out.printf("  %s: %d bytes\n", p.name, p.written)
	}

	return len(b), nil
}
