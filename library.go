package matlib

import (
	"context"
	"errors"
	"time"
)

// Library provides programmatic access to the material catalog and its
// local cache. All methods are safe for concurrent use.
// For CLI integration, use NewCommand instead.
type Library interface {
	// ListMaterials returns one page of catalog materials.
	// Materials without packages are skipped, so a page may hold fewer
	// than limit entries. Each returned material's JSON is cached.
	ListMaterials(ctx context.Context, limit, offset int) ([]Material, error)

	// AllMaterials walks the whole catalog in pages of PageSize.
	AllMaterials(ctx context.Context) ([]Material, error)

	// Material returns one material with its category resolved.
	// id may be a unique prefix of the full id.
	// Returns ErrNotFound or ErrAmbiguousID when id does not select exactly
	// one material.
	Material(ctx context.Context, id string, opts ...FetchOption) (Material, error)

	// Category returns one category.
	Category(ctx context.Context, id string, opts ...FetchOption) (Category, error)

	// Categories returns every category referenced by the catalog, sorted
	// by title.
	Categories(ctx context.Context) ([]Category, error)

	// Search returns the catalog materials matching q.
	Search(ctx context.Context, q Query) ([]Material, error)

	// Package returns the metadata of one package of mat.
	Package(ctx context.Context, mat Material, id string, opts ...FetchOption) (Package, error)

	// PullPackage downloads and extracts a package of mat and locates its
	// MaterialX document. An empty pkgID selects the first package.
	PullPackage(ctx context.Context, mat Material, pkgID string, opts ...FetchOption) (PullResult, error)

	// Render returns the metadata of one render of mat.
	Render(ctx context.Context, mat Material, id string, opts ...FetchOption) (Render, error)

	// FetchThumbnails downloads the thumbnails of all renders of mat in
	// display order, using up to WithConcurrency parallel downloads.
	FetchThumbnails(ctx context.Context, mat Material, opts ...FetchOption) ([]Render, error)

	// FetchImage downloads the full-size image of one render of mat.
	FetchImage(ctx context.Context, mat Material, renderID string, opts ...FetchOption) (Render, error)

	// Verify re-digests every indexed cache file and removes the ones
	// whose content no longer matches.
	Verify(ctx context.Context) (VerifyResult, error)

	// Prune removes cached files not modified within olderThan, plus
	// leftovers of interrupted transfers. Zero removes everything.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)

	// Dir returns the cache root.
	Dir() string
}

// Ensure library implements Library interface.
var _ Library = (*library)(nil)

// NewLibrary creates a new Library with the given configuration.
// Returns an error if the configuration is invalid (empty AppName or CatalogURL).
func NewLibrary(cfg Config, opts ...LibraryOption) (Library, error) {
	if cfg.AppName == "" {
		return nil, errors.New("matlib: AppName is required")
	}
	if cfg.CatalogURL == "" {
		return nil, errors.New("matlib: CatalogURL is required")
	}
	if cfg.MaxAge < 0 {
		return nil, errors.New("matlib: MaxAge must not be negative")
	}
	if cfg.Concurrency < 0 {
		return nil, errors.New("matlib: Concurrency must not be negative")
	}

	lcfg := newLibraryConfig()
	for _, opt := range opts {
		opt(lcfg)
	}
	logger := lcfg.logger
	if logger == nil {
		logger = nopLogger{}
	}

	storage, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}

	catalog := newCatalogClient(cfg.CatalogURL, lcfg.httpClient, logger)
	catalog.initialBackoff = lcfg.initialBackoff
	catalog.maxBackoff = lcfg.maxBackoff

	return &library{
		cfg:     cfg,
		logger:  logger,
		storage: storage,
		catalog: catalog,
		fetch:   newFetcher(catalog, storage, logger, cfg.MaxAge),
	}, nil
}
