package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"

	matlib "github.com/bnagirniak/hdusd"
)

// EnvConfigPath names the environment variable overriding the config file location.
const EnvConfigPath = "HDUSD_CONFIG"

// DefaultMaxResults is the default cap of the prim-path filter.
const DefaultMaxResults = 100

// PrimsConfig holds prim-path filter configuration
type PrimsConfig struct {
	MaxResults int `toml:"max_results"` // 0 = uncapped
}

// MaterialXConfig holds MaterialX configuration
type MaterialXConfig struct {
	LibraryDirs []string `toml:"library_dirs"`
}

// Config holds the hdusd configuration
type Config struct {
	CatalogURL  string          `toml:"catalog_url"`
	CacheDir    string          `toml:"cache_dir"` // empty = platform default
	MaxAge      time.Duration   `toml:"max_age"`
	Timeout     time.Duration   `toml:"timeout"`
	Concurrency int             `toml:"concurrency"`
	Prims       PrimsConfig     `toml:"prims"`
	MaterialX   MaterialXConfig `toml:"mtlx"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		CatalogURL:  matlib.DefaultCatalogURL,
		Timeout:     matlib.DefaultRequestTimeout,
		Concurrency: matlib.DefaultConcurrency,
		Prims: PrimsConfig{
			MaxResults: DefaultMaxResults,
		},
	}
}

// ValidatePath checks that the path is absolute or starts with ~
// Returns error if path is relative (like "." or "..")
func ValidatePath(path, fieldName string) error {
	if path == "" {
		return nil // Empty is allowed (means not configured)
	}
	if path[0] == '~' {
		return nil
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s must be absolute or start with ~, got: %q", fieldName, path)
	}
	return nil
}

// Path returns the path of the config file: $HDUSD_CONFIG if set,
// otherwise ~/.config/hdusd/config.toml.
func Path() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return homedir.Expand(p)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "hdusd", "config.toml"), nil
}

// Load reads the config file returned by Path.
// Returns Default() if the file doesn't exist (no error).
// Returns an error only if the file exists but is invalid.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads config from path, falling back to Default() for a
// missing file and for settings the file leaves out.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Default(), err
	}
	if err := cfg.expand(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.CatalogURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid catalog_url %q: must be an http or https URL", c.CatalogURL)
	}

	if err := ValidatePath(c.CacheDir, "cache_dir"); err != nil {
		return err
	}
	for i, dir := range c.MaterialX.LibraryDirs {
		if err := ValidatePath(dir, fmt.Sprintf("mtlx.library_dirs[%d]", i)); err != nil {
			return err
		}
	}

	if c.MaxAge < 0 {
		return fmt.Errorf("invalid max_age %s: must not be negative", c.MaxAge)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s: must not be negative", c.Timeout)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency %d: must not be negative", c.Concurrency)
	}
	if c.Prims.MaxResults < 0 {
		return fmt.Errorf("invalid prims.max_results %d: must not be negative", c.Prims.MaxResults)
	}

	// Use defaults for zero values
	if c.Timeout == 0 {
		c.Timeout = matlib.DefaultRequestTimeout
	}
	if c.Concurrency == 0 {
		c.Concurrency = matlib.DefaultConcurrency
	}
	return nil
}

// expand expands ~ in directory settings (shell doesn't expand in config files)
func (c *Config) expand() error {
	var err error
	if c.CacheDir, err = homedir.Expand(c.CacheDir); err != nil {
		return fmt.Errorf("expand cache_dir: %w", err)
	}
	for i, dir := range c.MaterialX.LibraryDirs {
		if c.MaterialX.LibraryDirs[i], err = homedir.Expand(dir); err != nil {
			return fmt.Errorf("expand mtlx.library_dirs[%d]: %w", i, err)
		}
	}
	return nil
}

// Library returns the matlib configuration for appName.
func (c Config) Library(appName string) matlib.Config {
	return matlib.Config{
		AppName:     appName,
		CatalogURL:  c.CatalogURL,
		CacheDir:    c.CacheDir,
		MaxAge:      c.MaxAge,
		Concurrency: c.Concurrency,
	}
}

// Encode returns c as TOML.
func (c Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Template returns the commented default config file.
func Template() string {
	return defaultConfig
}

// Init writes the commented default config to path.
// Returns an error if the file exists, unless force is set.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

const defaultConfig = `# hdusd configuration

# Base URL of the material library API
catalog_url = "https://matlibapi.stvcis.com/api"

# Material cache directory
# Must be an absolute path or start with ~
# HDUSD_MATLIB_DIR overrides this setting
# cache_dir = "~/.cache/hdusd/matlib"

# How long cached catalog files stay fresh ("0s" keeps them forever)
max_age = "0s"

# HTTP request timeout
timeout = "30s"

# Parallel downloads when fetching thumbnails
concurrency = 4

[prims]
# Maximum number of paths listed by "hdusd prims" (0 = no limit)
max_results = 100

[mtlx]
# Directories with MaterialX node-definition libraries
# library_dirs = ["~/MaterialX/libraries"]
`
