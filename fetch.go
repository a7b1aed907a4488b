package matlib

import (
	"bytes"
	"context"
	_ "crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/h2non/filetype"
	"github.com/opencontainers/go-digest"
)

// contentKind is what a downloaded asset must look like.
type contentKind int

const (
	kindAny contentKind = iota
	kindImage
	kindZip
)

func (k contentKind) String() string {
	switch k {
	case kindImage:
		return "image"
	case kindZip:
		return "zip archive"
	default:
		return "any"
	}
}

// sniffLen is how many leading bytes are kept for content sniffing.
const sniffLen = 262

// matches reports whether head (the first bytes of a file) fits the kind.
func (k contentKind) matches(head []byte) bool {
	switch k {
	case kindImage:
		return filetype.IsImage(head)
	case kindZip:
		return filetype.Is(head, "zip")
	default:
		return true
	}
}

// fetcher implements the cache policy on top of the catalog client:
// serve fresh cached copies, otherwise download atomically and record the
// result in the cache index.
type fetcher struct {
	catalog *catalogClient
	storage *storage
	logger  Logger

	// maxAge is the default freshness; zero means no expiry.
	maxAge time.Duration
}

// newFetcher creates a new fetcher.
func newFetcher(catalog *catalogClient, storage *storage, logger Logger, maxAge time.Duration) *fetcher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &fetcher{catalog: catalog, storage: storage, logger: logger, maxAge: maxAge}
}

// useCache reports whether dest can be served without network I/O.
func (f *fetcher) useCache(dest string, cfg *fetchConfig) bool {
	if cfg.refresh {
		return false
	}
	maxAge := f.maxAge
	if cfg.maxAgeSet {
		maxAge = cfg.maxAge
	}
	return f.storage.isFresh(dest, maxAge)
}

// fetchFile returns dest, downloading url into it first unless a fresh
// copy is cached. The body is streamed into a temporary file next to dest
// and renamed into place only after it was fully written, synced and
// sniffed, so dest never holds a partial transfer.
func (f *fetcher) fetchFile(ctx context.Context, url, dest string, kind contentKind, cfg *fetchConfig) (string, error) {
	if f.useCache(dest, cfg) {
		f.logger.Debug("cache hit", "path", dest)
		return dest, nil
	}

	f.logger.Info("downloading", "url", url, "path", dest)

	dir := filepath.Dir(dest)
	if err := f.storage.ensureDir(dir); err != nil {
		return "", err
	}

	var entry indexEntry
	err := f.catalog.stream(ctx, url, func(body io.Reader, size int64) error {
		var err error
		entry, err = f.writeTemp(ctx, url, dest, body, size, kind, cfg.progressFn)
		return err
	})
	if err != nil {
		return "", err
	}

	if err := f.storage.record(dest, entry); err != nil {
		f.logger.Warn("failed to record cache entry", "path", dest, "error", err)
	}

	f.logger.Debug("download complete", "path", dest, "size", entry.Size)
	return dest, nil
}

// writeTemp performs one transfer attempt. On any failure the temporary
// file is removed and dest is left untouched.
func (f *fetcher) writeTemp(ctx context.Context, url, dest string, body io.Reader, size int64, kind contentKind, progressFn func(FetchProgress)) (indexEntry, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+tempMarker+"*")
	if err != nil {
		return indexEntry{}, fmt.Errorf("%w: failed to create temp file: %v", ErrStorageError, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	var completed int64
	reader := io.Reader(body)
	if progressFn != nil {
		progressFn(FetchProgress{URL: url, BytesTotal: size})
		reader = &progressReader{reader: body, onProgress: func(delta int64) {
			completed += delta
			progressFn(FetchProgress{URL: url, BytesTotal: size, BytesCompleted: completed})
		}}
	}

	digester := digest.Canonical.Digester()
	head := &headBuffer{limit: sniffLen}
	written, err := io.Copy(io.MultiWriter(tmp, digester.Hash(), head), reader)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return indexEntry{}, ctxErr
		}
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return indexEntry{}, fmt.Errorf("%w: writing %s: %v", ErrStorageError, tmpName, err)
		}
		return indexEntry{}, fmt.Errorf("reading %s: %w: %w", url, ErrNetworkError, err)
	}
	if size >= 0 && written != size {
		return indexEntry{}, fmt.Errorf("reading %s: got %d of %d bytes: %w", url, written, size, ErrNetworkError)
	}
	if !kind.matches(head.buf) {
		return indexEntry{}, fmt.Errorf("%s: content is not a %s: %w", url, kind, ErrCatalogError)
	}

	if err := tmp.Sync(); err != nil {
		return indexEntry{}, fmt.Errorf("%w: syncing %s: %v", ErrStorageError, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return indexEntry{}, fmt.Errorf("%w: closing %s: %v", ErrStorageError, tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return indexEntry{}, fmt.Errorf("%w: failed to rename temp file: %v", ErrStorageError, err)
	}
	committed = true

	if progressFn != nil {
		progressFn(FetchProgress{URL: url, BytesTotal: size, BytesCompleted: written, Done: true})
	}

	return indexEntry{
		URL:       url,
		Size:      written,
		Digest:    digester.Digest(),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// fetchJSON decodes the document at url into v. When dest is non-empty the
// document is served from and saved to the cache under the same policy as
// fetchFile. A cached document that no longer parses is discarded and
// fetched again.
func (f *fetcher) fetchJSON(ctx context.Context, url, dest string, v any, cfg *fetchConfig) error {
	if dest != "" && f.useCache(dest, cfg) {
		data, err := os.ReadFile(dest)
		if err == nil && json.Unmarshal(data, v) == nil {
			f.logger.Debug("cache hit", "path", dest)
			return nil
		}
		f.logger.Warn("discarding unreadable cache entry", "path", dest)
		if err := f.storage.removeAll(dest); err != nil {
			return err
		}
	}

	data, err := f.catalog.getJSON(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w: %v", url, ErrCatalogError, err)
	}

	if dest != "" {
		if err := f.storeJSON(url, dest, data); err != nil {
			return err
		}
	}
	return nil
}

// storeJSON writes a catalog document to the cache and indexes it.
func (f *fetcher) storeJSON(url, dest string, data []byte) error {
	entry, changed, err := f.writeJSON(url, dest, data)
	if err != nil || !changed {
		return err
	}
	return f.storage.record(dest, entry)
}

// writeJSON writes a catalog document to the cache without indexing it and
// returns the index entry to record. A cached file holding the same bytes
// is only touched, so it stays fresh, and changed is false.
func (f *fetcher) writeJSON(url, dest string, data []byte) (entry indexEntry, changed bool, err error) {
	now := time.Now()
	if old, err := os.ReadFile(dest); err == nil && bytes.Equal(old, data) {
		if err := os.Chtimes(dest, now, now); err != nil {
			return indexEntry{}, false, fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		return indexEntry{}, false, nil
	}

	if err := f.storage.atomicWrite(dest, data); err != nil {
		return indexEntry{}, false, err
	}
	return indexEntry{
		URL:       url,
		Size:      int64(len(data)),
		Digest:    digest.FromBytes(data),
		FetchedAt: now.UTC(),
	}, true, nil
}

// headBuffer keeps the first limit bytes written to it.
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}
