package matlib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultCatalogURL is the base URL of the public material library API.
const DefaultCatalogURL = "https://matlibapi.stvcis.com/api"

// Config configures the material library.
type Config struct {
	// AppName determines the cache directory name.
	// Example: "hdusd" → ~/.cache/hdusd/matlib/ on Linux
	AppName string

	// CatalogURL is the base URL of the catalog API.
	// Example: "https://matlibapi.stvcis.com/api"
	CatalogURL string

	// CacheDir overrides the default cache directory.
	// If empty, uses platform-appropriate default.
	// Can also be set via environment variable: <APPNAME>_MATLIB_DIR
	CacheDir string

	// MaxAge is how long cached files stay fresh.
	// Zero means cached files never expire on their own.
	MaxAge time.Duration

	// Concurrency is the default number of parallel downloads of batch
	// fetches. Zero uses DefaultConcurrency.
	Concurrency int
}

// Material is a catalog entry.
type Material struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// CategoryID is empty for uncategorized materials.
	CategoryID string `json:"category"`

	Status string `json:"status"`

	// RenderIDs lists preview renders in display order.
	RenderIDs []string `json:"renders_order"`

	// PackageIDs lists downloadable MaterialX packages.
	PackageIDs []string `json:"packages"`

	// Category is filled in by Library methods that resolve categories.
	Category *Category `json:"-"`
}

// FullDescription returns the multi-line description shown in material
// pickers: title, description, category and author.
func (m Material) FullDescription() string {
	var b strings.Builder
	b.WriteString(m.Title)
	if m.Description != "" {
		b.WriteString("\n" + m.Description)
	}
	if m.Category != nil {
		b.WriteString("\nCategory: " + m.Category.Title)
	}
	b.WriteString("\nAuthor: " + m.Author)
	return b.String()
}

// validate checks the fields every consumer relies on.
func (m Material) validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("material: missing field %q: %w", "id", ErrCatalogError)
	case m.Title == "":
		return fmt.Errorf("material %s: missing field %q: %w", m.ID, "title", ErrCatalogError)
	}
	return nil
}

// materialEntry is a Material as the catalog sends it. The list fields are
// pointers so a missing key is told apart from an empty list.
type materialEntry struct {
	Material
	RenderIDs  *[]string `json:"renders_order"`
	PackageIDs *[]string `json:"packages"`
}

// parseMaterial decodes and validates one catalog material.
func parseMaterial(data []byte) (Material, error) {
	var e materialEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return Material{}, fmt.Errorf("%w: %v", ErrCatalogError, err)
	}
	m := e.Material
	if err := m.validate(); err != nil {
		return Material{}, err
	}
	switch {
	case e.RenderIDs == nil:
		return Material{}, fmt.Errorf("material %s: missing field %q: %w", m.ID, "renders_order", ErrCatalogError)
	case e.PackageIDs == nil:
		return Material{}, fmt.Errorf("material %s: missing field %q: %w", m.ID, "packages", ErrCatalogError)
	}
	m.RenderIDs = *e.RenderIDs
	m.PackageIDs = *e.PackageIDs
	return m, nil
}

// Category groups materials in the catalog.
type Category struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Package is a downloadable zip holding one MaterialX document.
type Package struct {
	ID      string     `json:"id"`
	Author  string     `json:"author"`
	Label   string     `json:"label"`
	File    string     `json:"file"`
	FileURL string     `json:"file_url"`
	Size    FlexString `json:"size"`

	// FilePath is the local path of the downloaded zip, empty until fetched.
	FilePath string `json:"-"`
}

// HasFile reports whether the package zip has been downloaded.
func (p Package) HasFile() bool {
	return p.FilePath != ""
}

func (p Package) validate() error {
	switch {
	case p.File == "":
		return fmt.Errorf("package %s: missing field %q: %w", p.ID, "file", ErrCatalogError)
	case p.FileURL == "":
		return fmt.Errorf("package %s: missing field %q: %w", p.ID, "file_url", ErrCatalogError)
	}
	return nil
}

// Render is a preview image of a material with its thumbnail.
type Render struct {
	ID           string `json:"id"`
	Author       string `json:"author"`
	Image        string `json:"image"`
	ImageURL     string `json:"image_url"`
	Thumbnail    string `json:"thumbnail"`
	ThumbnailURL string `json:"thumbnail_url"`

	// ImagePath and ThumbnailPath are empty until downloaded.
	ImagePath     string `json:"-"`
	ThumbnailPath string `json:"-"`
}

func (r Render) validate() error {
	switch {
	case r.Thumbnail == "" || r.ThumbnailURL == "":
		return fmt.Errorf("render %s: missing thumbnail: %w", r.ID, ErrCatalogError)
	case r.Image == "" || r.ImageURL == "":
		return fmt.Errorf("render %s: missing image: %w", r.ID, ErrCatalogError)
	}
	return nil
}

// FlexString decodes a JSON string or number into a string.
// The catalog reports package sizes either way.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

// Query filters catalog materials.
type Query struct {
	// Category restricts results to one category id. Empty means all.
	Category string

	// Text is matched against material titles, case-insensitively.
	Text string

	// Fuzzy ranks titles by fuzzy match instead of substring match.
	Fuzzy bool
}

// FetchProgress reports download progress of a single asset.
type FetchProgress struct {
	// URL is the remote resource being fetched.
	URL string

	// BytesTotal is the expected size, or -1 when the server did not say.
	BytesTotal int64

	// BytesCompleted is the number of bytes written so far.
	BytesCompleted int64

	// Done is set on the final report of a transfer.
	Done bool
}

// PullResult describes a downloaded and extracted package.
type PullResult struct {
	Material Material `json:"material"`
	Package  Package  `json:"package"`

	// ZipPath is the downloaded archive.
	ZipPath string `json:"zip_path"`

	// MaterialXPath is the first .mtlx file under the extraction root.
	MaterialXPath string `json:"mtlx_path"`
}

// VerifyResult summarizes a cache verification.
type VerifyResult struct {
	// Checked is the number of indexed files that were re-digested.
	Checked int `json:"checked"`

	// Missing lists index entries whose file no longer exists.
	Missing []string `json:"missing,omitempty"`

	// Corrupt lists files removed because their digest did not match.
	Corrupt []string `json:"corrupt,omitempty"`
}

// id8 returns the id prefix used to name cache entries.
func id8(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
