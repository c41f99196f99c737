// Package filestore resolves api.File paths to their contents. Local paths
// are opened directly; http(s) URLs are downloaded once into a cache
// directory, decompressing zstd artifacts on the way in.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/programme-lv/grader/api"
)

type download struct {
	done chan struct{}
	err  error
}

type FileStore struct {
	cacheDir string
	client   *http.Client
	logger   *slog.Logger
	inflight *xsync.MapOf[string, *download]
}

// New creates a FileStore caching downloads under cacheDir. A nil client
// means http.DefaultClient.
func New(cacheDir string, client *http.Client, logger *slog.Logger) *FileStore {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		cacheDir: cacheDir,
		client:   client,
		logger:   logger,
		inflight: xsync.NewMapOf[string, *download](),
	}
}

// Open returns a reader over the contents of f. The caller closes it.
func (fs *FileStore) Open(ctx context.Context, f api.File) (io.ReadCloser, error) {
	if f.Path == "" {
		return nil, fmt.Errorf("file %q has no path", f.Name)
	}
	if !isURL(f.Path) {
		return os.Open(f.Path)
	}

	path, err := fs.fetch(ctx, f)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func isURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// fetch makes sure the artifact behind f.Path is in the cache and returns
// its cache path. Concurrent calls for one URL share a single download.
func (fs *FileStore) fetch(ctx context.Context, f api.File) (string, error) {
	key := cacheKey(f.Path)
	path := filepath.Join(fs.cacheDir, key)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	d, loaded := fs.inflight.LoadOrCompute(key, func() *download {
		return &download{done: make(chan struct{})}
	})
	if !loaded {
		// The download outlives a single caller's cancellation since
		// others may be waiting on it.
		d.err = fs.download(context.WithoutCancel(ctx), f, path)
		close(d.done)
		fs.inflight.Delete(key)
		if d.err != nil {
			return "", d.err
		}
		return path, nil
	}

	select {
	case <-d.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if d.err != nil {
		return "", d.err
	}
	return path, nil
}

func (fs *FileStore) download(ctx context.Context, f api.File, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(fs.cacheDir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	fs.logger.Info("downloading file", slog.String("url", f.Path), slog.String("name", f.Name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", f.Path, err)
	}
	resp, err := fs.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", f.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", f.Path, resp.Status)
	}

	tmp, err := os.CreateTemp(fs.cacheDir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var body io.Reader = resp.Body
	if isZstd(f, resp) {
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("create zstd reader: %w", err)
		}
		defer dec.Close()
		body = dec
	}

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move %s into cache: %w", f.Path, err)
	}
	return nil
}

func isZstd(f api.File, resp *http.Response) bool {
	if f.Encoding == "zstd" || resp.Header.Get("Content-Type") == "application/zstd" {
		return true
	}
	u, err := url.Parse(f.Path)
	if err != nil {
		return false
	}
	return filepath.Ext(u.Path) == ".zst"
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}
