package matlib

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
)

func newTestFetcher(t *testing.T, fc *fakeCatalog, maxAge time.Duration) (*fetcher, *storage) {
	t.Helper()
	s := &storage{baseDir: t.TempDir(), lockTimeout: time.Second}
	return newFetcher(newTestCatalogClient(fc), s, nil, maxAge), s
}

// assertNoTempFiles fails if dir holds leftovers of a transfer.
func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), tempMarker) {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
}

func TestContentKind(t *testing.T) {
	zipHead := makeZip(t, map[string]string{"a.mtlx": "x"})

	tests := []struct {
		name string
		kind contentKind
		head []byte
		want bool
	}{
		{"png is image", kindImage, testPNG, true},
		{"html is not image", kindImage, []byte("<html><body>Error</body></html>"), false},
		{"zip is zip", kindZip, zipHead, true},
		{"png is not zip", kindZip, testPNG, false},
		{"anything goes", kindAny, []byte("plain"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.matches(tt.head); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchFileCaching(t *testing.T) {
	t.Run("second fetch is served from cache", func(t *testing.T) {
		fc := newFakeCatalog(t)
		fc.files["a.png"] = testPNG
		f, s := newTestFetcher(t, fc, 0)
		dest := filepath.Join(s.baseDir, "M-aaaaaaaa", "a.png")

		for i := 0; i < 2; i++ {
			got, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig())
			if err != nil {
				t.Fatalf("fetchFile() error = %v", err)
			}
			if got != dest {
				t.Errorf("fetchFile() = %q, want %q", got, dest)
			}
		}

		if n := fc.count("/files/a.png"); n != 1 {
			t.Errorf("requests = %d, want 1", n)
		}
	})

	t.Run("WithRefresh always fetches", func(t *testing.T) {
		fc := newFakeCatalog(t)
		fc.files["a.png"] = testPNG
		f, s := newTestFetcher(t, fc, 0)
		dest := filepath.Join(s.baseDir, "a.png")

		for i := 0; i < 2; i++ {
			if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig(WithRefresh())); err != nil {
				t.Fatalf("fetchFile() error = %v", err)
			}
		}

		if n := fc.count("/files/a.png"); n != 2 {
			t.Errorf("requests = %d, want 2", n)
		}
	})

	t.Run("expired file is fetched again", func(t *testing.T) {
		fc := newFakeCatalog(t)
		fc.files["a.png"] = testPNG
		f, s := newTestFetcher(t, fc, time.Hour)
		dest := filepath.Join(s.baseDir, "a.png")

		if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig()); err != nil {
			t.Fatalf("fetchFile() error = %v", err)
		}
		old := time.Now().Add(-2 * time.Hour)
		if err := os.Chtimes(dest, old, old); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}
		if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig()); err != nil {
			t.Fatalf("fetchFile() error = %v", err)
		}

		if n := fc.count("/files/a.png"); n != 2 {
			t.Errorf("requests = %d, want 2", n)
		}
	})

	t.Run("WithMaxAge zero overrides library default", func(t *testing.T) {
		fc := newFakeCatalog(t)
		fc.files["a.png"] = testPNG
		f, s := newTestFetcher(t, fc, time.Hour)
		dest := filepath.Join(s.baseDir, "a.png")

		if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig()); err != nil {
			t.Fatalf("fetchFile() error = %v", err)
		}
		old := time.Now().Add(-2 * time.Hour)
		os.Chtimes(dest, old, old)

		if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig(WithMaxAge(0))); err != nil {
			t.Fatalf("fetchFile() error = %v", err)
		}
		if n := fc.count("/files/a.png"); n != 1 {
			t.Errorf("requests = %d, want 1", n)
		}
	})

	t.Run("file changed behind the index is fetched again", func(t *testing.T) {
		fc := newFakeCatalog(t)
		fc.files["a.png"] = testPNG
		f, s := newTestFetcher(t, fc, 0)
		dest := filepath.Join(s.baseDir, "a.png")

		if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig()); err != nil {
			t.Fatalf("fetchFile() error = %v", err)
		}
		if err := os.WriteFile(dest, []byte("trunc"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig()); err != nil {
			t.Fatalf("fetchFile() error = %v", err)
		}

		data, _ := os.ReadFile(dest)
		if string(data) != string(testPNG) {
			t.Error("file was not restored")
		}
		if n := fc.count("/files/a.png"); n != 2 {
			t.Errorf("requests = %d, want 2", n)
		}
	})
}

func TestFetchFileRecordsIndex(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.files["a.png"] = testPNG
	f, s := newTestFetcher(t, fc, 0)
	dest := filepath.Join(s.baseDir, "M-aaaaaaaa", "a.png")

	if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig()); err != nil {
		t.Fatalf("fetchFile() error = %v", err)
	}

	idx, err := s.loadIndex()
	if err != nil {
		t.Fatalf("loadIndex() error = %v", err)
	}
	entry, ok := idx["M-aaaaaaaa/a.png"]
	if !ok {
		t.Fatalf("index has no entry for the file: %v", idx)
	}
	if entry.URL != fc.fileURL("a.png") {
		t.Errorf("URL = %q, want %q", entry.URL, fc.fileURL("a.png"))
	}
	if entry.Size != int64(len(testPNG)) {
		t.Errorf("Size = %d, want %d", entry.Size, len(testPNG))
	}
	if entry.Digest != digest.FromBytes(testPNG) {
		t.Errorf("Digest = %s, want %s", entry.Digest, digest.FromBytes(testPNG))
	}
	if entry.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set")
	}
}

func TestFetchFileRejectsWrongContent(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.files["a.png"] = []byte("<!DOCTYPE html><html><body>Not here</body></html>")
	f, s := newTestFetcher(t, fc, 0)
	dest := filepath.Join(s.baseDir, "a.png")

	_, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), dest, kindImage, newFetchConfig())
	if !errors.Is(err, ErrCatalogError) {
		t.Errorf("error = %v, want ErrCatalogError", err)
	}
	if IsRetryable(err) {
		t.Error("wrong content must not be retryable")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("rejected download should not be kept")
	}
	assertNoTempFiles(t, s.baseDir)
}

func TestFetchFileInterrupted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more than is sent; the server closes the connection.
		w.Header().Set("Content-Length", "4096")
		w.Write(testPNG)
	}))
	defer server.Close()

	c := newCatalogClient(server.URL, server.Client(), nil)
	c.initialBackoff = time.Millisecond
	c.maxBackoff = time.Millisecond
	s := &storage{baseDir: t.TempDir(), lockTimeout: time.Second}
	f := newFetcher(c, s, nil, 0)
	dest := filepath.Join(s.baseDir, "M-aaaaaaaa", "big.png")

	_, err := f.fetchFile(context.Background(), server.URL+"/big.png", dest, kindImage, newFetchConfig())
	if err == nil {
		t.Fatal("fetchFile() error = nil, want error")
	}
	if !IsRetryable(err) {
		t.Errorf("error = %v, want retryable", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial download must not appear under the final name")
	}
	assertNoTempFiles(t, filepath.Dir(dest))
}

func TestFetchFileCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Write(testPNG)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := newCatalogClient(server.URL, server.Client(), nil)
	s := &storage{baseDir: t.TempDir(), lockTimeout: time.Second}
	f := newFetcher(c, s, nil, 0)
	dest := filepath.Join(s.baseDir, "slow.png")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.fetchFile(ctx, server.URL+"/slow.png", dest, kindImage, newFetchConfig())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("cancelled download must not appear under the final name")
	}
	assertNoTempFiles(t, s.baseDir)
}

func TestFetchFileProgress(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.files["a.png"] = testPNG
	f, s := newTestFetcher(t, fc, 0)

	var mu sync.Mutex
	var reports []FetchProgress
	cfg := newFetchConfig(WithProgress(func(p FetchProgress) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, p)
	}))

	if _, err := f.fetchFile(context.Background(), fc.fileURL("a.png"), filepath.Join(s.baseDir, "a.png"), kindImage, cfg); err != nil {
		t.Fatalf("fetchFile() error = %v", err)
	}

	if len(reports) < 2 {
		t.Fatalf("got %d progress reports, want at least 2", len(reports))
	}
	last := reports[len(reports)-1]
	if !last.Done {
		t.Error("last report should be marked done")
	}
	if last.BytesCompleted != int64(len(testPNG)) {
		t.Errorf("BytesCompleted = %d, want %d", last.BytesCompleted, len(testPNG))
	}
	if last.URL != fc.fileURL("a.png") {
		t.Errorf("URL = %q, want %q", last.URL, fc.fileURL("a.png"))
	}
}

func TestFetchJSON(t *testing.T) {
	t.Run("cached document is reused", func(t *testing.T) {
		fc := newFakeCatalog(t)
		fc.addCategory("cat-1", "Metal")
		f, s := newTestFetcher(t, fc, 0)
		dest := s.categoryPath("cat-1")

		for i := 0; i < 2; i++ {
			var c Category
			if err := f.fetchJSON(context.Background(), f.catalog.categoryURL("cat-1"), dest, &c, newFetchConfig()); err != nil {
				t.Fatalf("fetchJSON() error = %v", err)
			}
			if c.Title != "Metal" {
				t.Errorf("Title = %q, want %q", c.Title, "Metal")
			}
		}

		if n := fc.count("/api/categories/cat-1"); n != 1 {
			t.Errorf("requests = %d, want 1", n)
		}
	})

	t.Run("unparseable cache is discarded", func(t *testing.T) {
		fc := newFakeCatalog(t)
		fc.addCategory("cat-1", "Metal")
		f, s := newTestFetcher(t, fc, 0)
		dest := s.categoryPath("cat-1")

		if err := os.WriteFile(dest, []byte("{not json"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		var c Category
		if err := f.fetchJSON(context.Background(), f.catalog.categoryURL("cat-1"), dest, &c, newFetchConfig()); err != nil {
			t.Fatalf("fetchJSON() error = %v", err)
		}
		if c.Title != "Metal" {
			t.Errorf("Title = %q, want %q", c.Title, "Metal")
		}
		if n := fc.count("/api/categories/cat-1"); n != 1 {
			t.Errorf("requests = %d, want 1", n)
		}

		data, _ := os.ReadFile(dest)
		if !strings.Contains(string(data), "Metal") {
			t.Errorf("cache = %s, want refreshed document", data)
		}
	})

	t.Run("empty dest skips the cache", func(t *testing.T) {
		fc := newFakeCatalog(t)
		fc.addCategory("cat-1", "Metal")
		f, _ := newTestFetcher(t, fc, 0)

		for i := 0; i < 2; i++ {
			var c Category
			if err := f.fetchJSON(context.Background(), f.catalog.categoryURL("cat-1"), "", &c, newFetchConfig()); err != nil {
				t.Fatalf("fetchJSON() error = %v", err)
			}
		}
		if n := fc.count("/api/categories/cat-1"); n != 2 {
			t.Errorf("requests = %d, want 2", n)
		}
	})

	t.Run("invalid remote document is a catalog error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		}))
		defer server.Close()

		s := &storage{baseDir: t.TempDir(), lockTimeout: time.Second}
		f := newFetcher(newCatalogClient(server.URL, server.Client(), nil), s, nil, 0)
		dest := filepath.Join(s.baseDir, "C-x.json")

		var c Category
		err := f.fetchJSON(context.Background(), server.URL+"/categories/x", dest, &c, newFetchConfig())
		if !errors.Is(err, ErrCatalogError) {
			t.Errorf("error = %v, want ErrCatalogError", err)
		}
		if _, err := os.Stat(dest); !os.IsNotExist(err) {
			t.Error("invalid document should not be cached")
		}
	})
}

func TestHeadBuffer(t *testing.T) {
	h := &headBuffer{limit: 4}
	h.Write([]byte("ab"))
	h.Write([]byte("cdef"))
	n, err := h.Write([]byte("gh"))

	if err != nil || n != 2 {
		t.Errorf("Write() = %d, %v; want 2, nil", n, err)
	}
	if string(h.buf) != "abcd" {
		t.Errorf("buf = %q, want %q", h.buf, "abcd")
	}
}
