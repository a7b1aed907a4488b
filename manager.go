package matlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// library is the concrete implementation of the Library interface.
type library struct {
	// cfg holds the library configuration.
	cfg Config

	// logger receives diagnostic messages. Never nil.
	logger Logger

	// storage handles local filesystem operations.
	storage *storage

	// catalog handles remote catalog communication.
	catalog *catalogClient

	// fetch applies the cache policy to catalog downloads.
	fetch *fetcher

	// pullMu serializes package pulls within the process.
	pullMu sync.Mutex
}

// ListMaterials returns one page of catalog materials.
func (l *library) ListMaterials(ctx context.Context, limit, offset int) ([]Material, error) {
	mats, _, err := l.listPage(ctx, limit, offset)
	return mats, err
}

// listPage fetches one page and also returns how many raw entries the
// catalog sent, which tells callers whether the listing is exhausted.
func (l *library) listPage(ctx context.Context, limit, offset int) ([]Material, int, error) {
	if limit < 1 {
		return nil, 0, fmt.Errorf("matlib: limit must be positive, got %d", limit)
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("matlib: offset must not be negative, got %d", offset)
	}

	raws, err := l.catalog.fetchMaterialsPage(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	pageURL := l.catalog.materialsURL(limit, offset)
	entries := make(map[string]indexEntry)
	var mats []Material
	for _, raw := range raws {
		m, err := parseMaterial(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("material at offset %d: %w", offset, err)
		}
		if len(m.PackageIDs) == 0 {
			l.logger.Debug("skipping material without packages", "id", m.ID)
			continue
		}

		dest := l.storage.materialInfoPath(m.ID)
		entry, changed, err := l.fetch.writeJSON(pageURL, dest, raw)
		if err != nil {
			l.logger.Warn("failed to cache material", "id", m.ID, "error", err)
		} else if changed {
			entries[dest] = entry
		}
		mats = append(mats, m)
	}

	if err := l.storage.recordAll(entries); err != nil {
		l.logger.Warn("failed to index materials", "offset", offset, "error", err)
	}

	return mats, len(raws), nil
}

// AllMaterials walks the whole catalog.
func (l *library) AllMaterials(ctx context.Context) ([]Material, error) {
	seen := make(map[string]bool)
	var all []Material

	for offset := 0; ; offset += PageSize {
		mats, n, err := l.listPage(ctx, PageSize, offset)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}

		for _, m := range mats {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			all = append(all, m)
		}
	}

	return all, nil
}

// Material returns one material by id or unique id prefix.
func (l *library) Material(ctx context.Context, id string, opts ...FetchOption) (Material, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Material{}, fmt.Errorf("%w: empty material id", ErrInvalidID)
	}
	cfg := newFetchConfig(opts...)

	m, ok := l.cachedMaterial(id, cfg)
	if !ok {
		var err error
		m, err = l.findMaterial(ctx, id)
		if err != nil {
			return Material{}, err
		}
	}

	l.resolveCategory(ctx, &m, opts...)
	return m, nil
}

// cachedMaterial reads info.json of a material without network I/O.
// Only ids long enough to name the cache directory are looked up.
func (l *library) cachedMaterial(id string, cfg *fetchConfig) (Material, bool) {
	if len(id) < 8 {
		return Material{}, false
	}
	p := l.storage.materialInfoPath(id)
	if !l.fetch.useCache(p, cfg) {
		return Material{}, false
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return Material{}, false
	}
	m, err := parseMaterial(data)
	if err != nil {
		l.logger.Warn("ignoring unreadable cached material", "path", p)
		return Material{}, false
	}
	if !strings.HasPrefix(m.ID, id) {
		return Material{}, false
	}

	l.logger.Debug("cache hit", "path", p)
	return m, true
}

// findMaterial scans the catalog for id, accepting a unique prefix.
func (l *library) findMaterial(ctx context.Context, id string) (Material, error) {
	all, err := l.AllMaterials(ctx)
	if err != nil {
		return Material{}, err
	}

	var matches []Material
	for _, m := range all {
		if m.ID == id {
			return m, nil
		}
		if strings.HasPrefix(m.ID, id) {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 0:
		return Material{}, fmt.Errorf("material %s: %w", id, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return Material{}, fmt.Errorf("material %s matches %d materials: %w", id, len(matches), ErrAmbiguousID)
	}
}

// resolveCategory fills in m.Category. A category that cannot be fetched
// leaves the material uncategorized.
func (l *library) resolveCategory(ctx context.Context, m *Material, opts ...FetchOption) {
	if m.CategoryID == "" {
		return
	}
	c, err := l.Category(ctx, m.CategoryID, opts...)
	if err != nil {
		l.logger.Warn("failed to resolve category", "material", m.ID, "category", m.CategoryID, "error", err)
		return
	}
	m.Category = &c
}

// Category returns one category.
func (l *library) Category(ctx context.Context, id string, opts ...FetchOption) (Category, error) {
	if id == "" {
		return Category{}, fmt.Errorf("%w: empty category id", ErrInvalidID)
	}
	cfg := newFetchConfig(opts...)

	var c Category
	if err := l.fetch.fetchJSON(ctx, l.catalog.categoryURL(id), l.storage.categoryPath(id), &c, cfg); err != nil {
		return Category{}, err
	}
	if c.ID == "" {
		c.ID = id
	}
	if c.Title == "" {
		return Category{}, fmt.Errorf("category %s: missing field %q: %w", id, "title", ErrCatalogError)
	}
	return c, nil
}

// Categories returns every category referenced by the catalog.
func (l *library) Categories(ctx context.Context) ([]Category, error) {
	all, err := l.AllMaterials(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, m := range all {
		if m.CategoryID != "" && !slices.Contains(ids, m.CategoryID) {
			ids = append(ids, m.CategoryID)
		}
	}

	categories := make([]Category, len(ids))
	found := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			c, err := l.Category(gctx, id)
			if errors.Is(err, ErrNotFound) {
				l.logger.Warn("category missing from catalog", "category", id)
				return nil
			}
			if err != nil {
				return err
			}
			categories[i] = c
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]Category, 0, len(ids))
	for i, c := range categories {
		if found[i] {
			result = append(result, c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Title < result[j].Title
	})
	return result, nil
}

// Search returns the catalog materials matching q.
func (l *library) Search(ctx context.Context, q Query) ([]Material, error) {
	all, err := l.AllMaterials(ctx)
	if err != nil {
		return nil, err
	}
	return searchMaterials(all, q), nil
}

// Package returns the metadata of one package of mat.
func (l *library) Package(ctx context.Context, mat Material, id string, opts ...FetchOption) (Package, error) {
	if id == "" {
		return Package{}, fmt.Errorf("%w: empty package id", ErrInvalidID)
	}
	if !slices.Contains(mat.PackageIDs, id) {
		return Package{}, fmt.Errorf("material %s has no package %s: %w", mat.ID, id, ErrNotFound)
	}
	cfg := newFetchConfig(opts...)

	dir := l.storage.packageDir(mat.ID, id)
	var p Package
	if err := l.fetch.fetchJSON(ctx, l.catalog.packageURL(id), filepath.Join(dir, "info.json"), &p, cfg); err != nil {
		return Package{}, err
	}
	if p.ID == "" {
		p.ID = id
	}
	if err := p.validate(); err != nil {
		return Package{}, err
	}

	zipPath, err := assetPath(dir, p.File)
	if err != nil {
		return Package{}, err
	}
	if fileExists(zipPath) {
		p.FilePath = zipPath
	}
	return p, nil
}

// PullPackage downloads and extracts a package of mat.
func (l *library) PullPackage(ctx context.Context, mat Material, pkgID string, opts ...FetchOption) (PullResult, error) {
	if pkgID == "" {
		if len(mat.PackageIDs) == 0 {
			return PullResult{}, fmt.Errorf("material %s has no packages: %w", mat.ID, ErrNotFound)
		}
		pkgID = mat.PackageIDs[0]
	}
	cfg := newFetchConfig(opts...)

	pkg, err := l.Package(ctx, mat, pkgID, opts...)
	if err != nil {
		return PullResult{}, err
	}

	l.pullMu.Lock()
	defer l.pullMu.Unlock()

	// Acquire cross-process lock for this package so two processes never
	// extract into the same directory at once.
	dir := l.storage.packageDir(mat.ID, pkgID)
	if err := l.storage.ensureDir(dir); err != nil {
		return PullResult{}, err
	}
	pullLock, err := newFileLock(filepath.Join(dir, ".pull.lock"), l.storage.lockTimeout)
	if err != nil {
		return PullResult{}, fmt.Errorf("%w: failed to create pull lock: %v", ErrStorageError, err)
	}
	if err := pullLock.Lock(); err != nil {
		pullLock.Unlock()
		return PullResult{}, fmt.Errorf("%w: another process is pulling this package: %v", ErrStorageError, err)
	}
	defer pullLock.Unlock()

	zipPath, err := assetPath(dir, pkg.File)
	if err != nil {
		return PullResult{}, err
	}
	downloaded := !l.fetch.useCache(zipPath, cfg)
	if _, err := l.fetch.fetchFile(ctx, pkg.FileURL, zipPath, kindZip, cfg); err != nil {
		return PullResult{}, err
	}
	pkg.FilePath = zipPath

	// A fresh archive invalidates whatever was extracted from the old one.
	var extractOpts []FetchOption
	if downloaded {
		extractOpts = append(extractOpts, WithRefresh())
	}
	mtlxPath, err := ExtractPackage(ctx, zipPath, dir, extractOpts...)
	if err != nil {
		return PullResult{}, err
	}

	return PullResult{
		Material:      mat,
		Package:       pkg,
		ZipPath:       zipPath,
		MaterialXPath: mtlxPath,
	}, nil
}

// Render returns the metadata of one render of mat.
func (l *library) Render(ctx context.Context, mat Material, id string, opts ...FetchOption) (Render, error) {
	if id == "" {
		return Render{}, fmt.Errorf("%w: empty render id", ErrInvalidID)
	}
	if !slices.Contains(mat.RenderIDs, id) {
		return Render{}, fmt.Errorf("material %s has no render %s: %w", mat.ID, id, ErrNotFound)
	}
	cfg := newFetchConfig(opts...)

	var r Render
	if err := l.fetch.fetchJSON(ctx, l.catalog.renderURL(id), l.storage.renderInfoPath(mat.ID, id), &r, cfg); err != nil {
		return Render{}, err
	}
	if r.ID == "" {
		r.ID = id
	}
	if err := r.validate(); err != nil {
		return Render{}, err
	}

	dir := l.storage.materialDir(mat.ID)
	if p, err := assetPath(dir, r.Thumbnail); err == nil && fileExists(p) {
		r.ThumbnailPath = p
	}
	if p, err := assetPath(dir, r.Image); err == nil && fileExists(p) {
		r.ImagePath = p
	}
	return r, nil
}

// FetchThumbnails downloads the thumbnails of all renders of mat.
func (l *library) FetchThumbnails(ctx context.Context, mat Material, opts ...FetchOption) ([]Render, error) {
	if l.cfg.Concurrency > 0 {
		opts = append([]FetchOption{WithConcurrency(l.cfg.Concurrency)}, opts...)
	}
	cfg := newFetchConfig(opts...)
	renders := make([]Render, len(mat.RenderIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i, id := range mat.RenderIDs {
		g.Go(func() error {
			r, err := l.Render(gctx, mat, id, opts...)
			if err != nil {
				return err
			}
			p, err := assetPath(l.storage.materialDir(mat.ID), r.Thumbnail)
			if err != nil {
				return err
			}
			if _, err := l.fetch.fetchFile(gctx, r.ThumbnailURL, p, kindImage, cfg); err != nil {
				return err
			}
			r.ThumbnailPath = p
			renders[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return renders, nil
}

// FetchImage downloads the full-size image of one render of mat.
func (l *library) FetchImage(ctx context.Context, mat Material, renderID string, opts ...FetchOption) (Render, error) {
	cfg := newFetchConfig(opts...)

	r, err := l.Render(ctx, mat, renderID, opts...)
	if err != nil {
		return Render{}, err
	}
	p, err := assetPath(l.storage.materialDir(mat.ID), r.Image)
	if err != nil {
		return Render{}, err
	}
	if _, err := l.fetch.fetchFile(ctx, r.ImageURL, p, kindImage, cfg); err != nil {
		return Render{}, err
	}
	r.ImagePath = p
	return r, nil
}

// Verify re-digests every indexed cache file.
func (l *library) Verify(ctx context.Context) (VerifyResult, error) {
	idx, err := l.storage.loadIndex()
	if err != nil {
		return VerifyResult{}, err
	}

	keys := make([]string, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var res VerifyResult
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		p := l.storage.absPath(key)
		ok, err := verifyFile(p, idx[key].Digest)
		if os.IsNotExist(err) {
			res.Missing = append(res.Missing, key)
			if err := l.storage.forget(p); err != nil {
				return res, err
			}
			continue
		}
		if err != nil {
			return res, fmt.Errorf("%w: verifying %s: %v", ErrStorageError, key, err)
		}

		res.Checked++
		if !ok {
			l.logger.Warn("removing corrupt cache file", "path", p)
			res.Corrupt = append(res.Corrupt, key)
			if err := l.storage.removeAll(p); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// verifyFile reports whether the content of p matches d.
// An invalid recorded digest counts as a mismatch.
func verifyFile(p string, d digest.Digest) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if d.Validate() != nil {
		return false, nil
	}
	verifier := d.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return false, err
	}
	return verifier.Verified(), nil
}

// Prune removes stale cache files.
func (l *library) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if olderThan < 0 {
		olderThan = 0
	}
	return l.storage.prune(olderThan)
}

// Dir returns the cache root.
func (l *library) Dir() string {
	return l.storage.baseDir
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
