package matlib

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
)

// DefaultLockTimeout is the default timeout for acquiring file locks.
const DefaultLockTimeout = 30 * time.Second

// indexFile is the name of the cache index at the cache root.
const indexFile = "index.json"

// tempMarker is part of every temporary file name so interrupted
// transfers can be recognized and pruned.
const tempMarker = ".tmp-"

// cacheIndex represents the contents of index.json.
// Keys are slash-separated paths relative to the cache root.
type cacheIndex map[string]indexEntry

// indexEntry records where a cached file came from and what it contained.
type indexEntry struct {
	// URL is the remote resource the file was fetched from.
	URL string `json:"url"`

	// Size is the file size in bytes when it was written.
	Size int64 `json:"size"`

	// Digest is the SHA-256 digest of the file content.
	Digest digest.Digest `json:"digest"`

	// FetchedAt is when the file was written.
	FetchedAt time.Time `json:"fetched_at"`
}

// storage handles all local filesystem operations of the cache.
type storage struct {
	// baseDir is the cache root.
	baseDir string

	// lockTimeout is the maximum duration to wait for file lock acquisition.
	lockTimeout time.Duration

	// indexMu protects concurrent in-process access to index.json.
	indexMu sync.Mutex

	// indexWrites counts index.json rewrites. Guarded by indexMu.
	indexWrites int
}

// envVarName constructs an environment variable name from the app name.
// Converts appName to uppercase and appends "_MATLIB_DIR".
// Example: envVarName("hdusd") returns "HDUSD_MATLIB_DIR".
func envVarName(appName string) string {
	return strings.ToUpper(appName) + "_MATLIB_DIR"
}

// newStorage creates a new storage instance for the given configuration.
func newStorage(cfg Config) (*storage, error) {
	var baseDir string

	// Priority: env var > Config.CacheDir > platform default
	if envDir := os.Getenv(envVarName(cfg.AppName)); envDir != "" {
		baseDir = envDir
	} else if cfg.CacheDir != "" {
		baseDir = cfg.CacheDir
	} else {
		defaultDir, err := getDefaultCacheDir(cfg.AppName)
		if err != nil {
			return nil, fmt.Errorf("failed to get default cache dir: %w", err)
		}
		baseDir = defaultDir
	}

	s := &storage{baseDir: baseDir, lockTimeout: DefaultLockTimeout}

	if err := s.ensureDir(baseDir); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return s, nil
}

// materialDir returns M-{id8}, the directory holding everything cached
// for one material.
func (s *storage) materialDir(materialID string) string {
	return filepath.Join(s.baseDir, "M-"+id8(materialID))
}

// materialInfoPath returns the cached catalog entry of a material.
func (s *storage) materialInfoPath(materialID string) string {
	return filepath.Join(s.materialDir(materialID), "info.json")
}

// categoryPath returns the cached catalog entry of a category.
func (s *storage) categoryPath(categoryID string) string {
	return filepath.Join(s.baseDir, "C-"+id8(categoryID)+".json")
}

// packageDir returns P-{id8} inside the material directory.
func (s *storage) packageDir(materialID, packageID string) string {
	return filepath.Join(s.materialDir(materialID), "P-"+id8(packageID))
}

// renderInfoPath returns the cached catalog entry of a render.
func (s *storage) renderInfoPath(materialID, renderID string) string {
	return filepath.Join(s.materialDir(materialID), "R-"+id8(renderID)+".json")
}

// assetPath joins a file name reported by the catalog onto dir.
// Names that would escape dir are rejected.
func assetPath(dir, name string) (string, error) {
	clean := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || clean == ".." || clean == "/" || clean == "" {
		return "", fmt.Errorf("invalid file name %q: %w", name, ErrCatalogError)
	}
	return filepath.Join(dir, clean), nil
}

// relPath converts an absolute cache path into an index key.
func (s *storage) relPath(p string) string {
	rel, err := filepath.Rel(s.baseDir, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// absPath converts an index key back into a filesystem path.
func (s *storage) absPath(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// loadIndex reads and parses index.json.
// Returns an empty index if the file doesn't exist or is unreadable JSON;
// a corrupt index only costs re-verification, never correctness.
func (s *storage) loadIndex() (cacheIndex, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.loadIndexLocked()
}

func (s *storage) loadIndexLocked() (cacheIndex, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, indexFile))
	if os.IsNotExist(err) {
		return make(cacheIndex), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil || idx == nil {
		return make(cacheIndex), nil
	}
	return idx, nil
}

// updateIndex runs fn on the current index and saves the result.
// Uses cross-process file locking so concurrent processes sharing the
// cache do not lose each other's entries.
func (s *storage) updateIndex(fn func(cacheIndex)) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	lockPath := filepath.Join(s.baseDir, indexFile+".lock")
	lock, err := newFileLock(lockPath, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("%w: failed to create lock: %v", ErrStorageError, err)
	}
	if err := lock.Lock(); err != nil {
		lock.Unlock()
		return fmt.Errorf("%w: failed to acquire lock: %v", ErrStorageError, err)
	}
	defer lock.Unlock()

	idx, err := s.loadIndexLocked()
	if err != nil {
		return err
	}

	fn(idx)

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal index: %v", ErrStorageError, err)
	}
	if err := s.atomicWrite(filepath.Join(s.baseDir, indexFile), data); err != nil {
		return err
	}
	s.indexWrites++
	return nil
}

// record stores the index entry for a freshly written file.
func (s *storage) record(p string, entry indexEntry) error {
	return s.recordAll(map[string]indexEntry{p: entry})
}

// recordAll stores the entries of several files, keyed by path, with a
// single index rewrite.
func (s *storage) recordAll(entries map[string]indexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.updateIndex(func(idx cacheIndex) {
		for p, entry := range entries {
			idx[s.relPath(p)] = entry
		}
	})
}

// forget drops index entries for p and everything below it.
func (s *storage) forget(p string) error {
	key := s.relPath(p)
	return s.updateIndex(func(idx cacheIndex) {
		for k := range idx {
			if k == key || strings.HasPrefix(k, key+"/") {
				delete(idx, k)
			}
		}
	})
}

// isFresh reports whether p exists, is younger than maxAge (zero means no
// expiry) and still has the size recorded in the index.
func (s *storage) isFresh(p string, maxAge time.Duration) bool {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if maxAge > 0 && time.Since(info.ModTime()) > maxAge {
		return false
	}

	idx, err := s.loadIndex()
	if err != nil {
		return true
	}
	if entry, ok := idx[s.relPath(p)]; ok && entry.Size != info.Size() {
		return false
	}
	return true
}

// atomicWrite writes data to a file using write-then-rename for atomicity.
func (s *storage) atomicWrite(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", ErrStorageError, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrStorageError, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write temp file: %v", ErrStorageError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close temp file: %v", ErrStorageError, err)
	}

	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName) // cleanup on failure
		return fmt.Errorf("%w: failed to rename temp file: %v", ErrStorageError, err)
	}

	return nil
}

// ensureDir creates a directory and all parent directories if they don't exist.
func (s *storage) ensureDir(p string) error {
	if err := os.MkdirAll(p, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory %s: %v", ErrStorageError, p, err)
	}
	return nil
}

// removeAll deletes p and its index entries.
func (s *storage) removeAll(p string) error {
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("%w: failed to remove %s: %v", ErrStorageError, p, err)
	}
	return s.forget(p)
}

// prune removes cached files not modified within olderThan (zero removes
// everything) together with leftover temporary files, and returns the
// number of files removed. Directories left empty are removed as well.
func (s *storage) prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var removed []string

	err := filepath.WalkDir(s.baseDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Ignore unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if p == filepath.Join(s.baseDir, indexFile) || strings.HasPrefix(name, indexFile) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if olderThan == 0 || strings.Contains(name, tempMarker) || info.ModTime().Before(cutoff) {
			if os.Remove(p) == nil {
				removed = append(removed, s.relPath(p))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	removeEmptyDirs(s.baseDir)

	if len(removed) > 0 {
		if err := s.updateIndex(func(idx cacheIndex) {
			for _, key := range removed {
				delete(idx, key)
			}
		}); err != nil {
			return len(removed), err
		}
	}
	return len(removed), nil
}

// removeEmptyDirs deletes empty directories below root, deepest first.
func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i]) // Fails harmlessly on non-empty directories
	}
}
