package matlib

import (
	"net/http"
	"time"
)

// Concurrency constants for thumbnail and image downloads.
const (
	// DefaultConcurrency is the default number of concurrent downloads.
	DefaultConcurrency = 4

	// MaxConcurrency is the maximum allowed concurrent downloads.
	MaxConcurrency = 16

	// DefaultRequestTimeout is the default timeout for HTTP requests.
	DefaultRequestTimeout = 30 * time.Second

	// PageSize is the number of materials requested per catalog page
	// when walking the whole catalog.
	PageSize = 500
)

// Retry configuration constants for failed HTTP requests.
const (
	// MaxRetries is the maximum number of retry attempts for failed requests.
	MaxRetries = 3

	// InitialBackoff is the initial backoff duration before first retry.
	InitialBackoff = 1 * time.Second

	// MaxBackoff is the maximum backoff duration between retries.
	MaxBackoff = 4 * time.Second
)

// FetchOption configures how a single cached fetch treats the cache.
type FetchOption func(*fetchConfig)

// fetchConfig holds configuration for a fetch operation.
type fetchConfig struct {
	// refresh forces a network fetch even if a fresh cached copy exists.
	refresh bool

	// maxAge overrides the library's default freshness when set.
	maxAge    time.Duration
	maxAgeSet bool

	// concurrency is the number of parallel downloads for batch fetches.
	concurrency int

	// progressFn is called with progress updates during download.
	progressFn func(FetchProgress)
}

// newFetchConfig returns a fetchConfig with default values applied.
func newFetchConfig(opts ...FetchOption) *fetchConfig {
	cfg := &fetchConfig{
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithRefresh forces a re-fetch even if the cached copy is still fresh.
func WithRefresh() FetchOption {
	return func(c *fetchConfig) {
		c.refresh = true
	}
}

// WithMaxAge overrides the configured cache freshness for one call.
// Zero means any cached copy is fresh.
func WithMaxAge(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		if d < 0 {
			d = 0
		}
		c.maxAge = d
		c.maxAgeSet = true
	}
}

// WithConcurrency sets the number of concurrent downloads for batch fetches.
// Values are clamped to the range [1, MaxConcurrency].
// Default is DefaultConcurrency (4).
func WithConcurrency(n int) FetchOption {
	return func(c *fetchConfig) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrency {
			n = MaxConcurrency
		}
		c.concurrency = n
	}
}

// WithProgress sets a callback for progress updates during download.
// For batch fetches the callback is invoked from worker goroutines and must
// be thread-safe.
func WithProgress(fn func(FetchProgress)) FetchOption {
	return func(c *fetchConfig) {
		c.progressFn = fn
	}
}

// LibraryOption configures a Library.
type LibraryOption func(*libraryConfig)

// libraryConfig holds configuration for Library construction.
type libraryConfig struct {
	// httpClient is used for all HTTP requests to the catalog.
	httpClient HTTPClient

	// logger receives diagnostic log messages.
	logger Logger

	// initialBackoff and maxBackoff bound the retry delays.
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// newLibraryConfig returns a libraryConfig with default values.
func newLibraryConfig() *libraryConfig {
	return &libraryConfig{
		httpClient:     &http.Client{Timeout: DefaultRequestTimeout},
		initialBackoff: InitialBackoff,
		maxBackoff:     MaxBackoff,
	}
}

// WithHTTPClient sets a custom HTTP client for catalog requests.
// Useful for testing with mock servers or customizing timeouts.
// If not set, an *http.Client with DefaultRequestTimeout is used.
func WithHTTPClient(client HTTPClient) LibraryOption {
	return func(c *libraryConfig) {
		c.httpClient = client
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) LibraryOption {
	return func(c *libraryConfig) {
		c.logger = logger
	}
}

// WithBackoff overrides the retry delays between failed requests.
func WithBackoff(initial, max time.Duration) LibraryOption {
	return func(c *libraryConfig) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max >= c.initialBackoff {
			c.maxBackoff = max
		}
	}
}

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the interface for diagnostic logging.
// *slog.Logger satisfies this interface.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards everything; used when no logger is configured.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
