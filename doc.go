// Package matlib provides a client and local cache for a remote MaterialX
// material library catalog.
//
// The package serves two primary use cases:
//
//  1. Programmatic API via the Library interface - Applications can use
//     NewLibrary to list and search catalog materials, download their
//     MaterialX packages, and fetch render previews.
//
//  2. Embeddable CLI via NewCommand - Parent CLI tools can attach a complete
//     "matlib" subcommand tree to their Cobra root command, providing
//     commands like "hdusd matlib list", "hdusd matlib pull", etc.
//
// # Thread Safety
//
// The Library interface is fully thread-safe. All methods can be called
// concurrently from multiple goroutines without external synchronization.
//
// # Caching
//
// Every catalog response and downloaded asset is written to the cache
// directory with write-then-rename, so an interrupted transfer never leaves
// a partial file under its final name. A cached file is reused until it is
// older than the configured maximum age or the caller passes WithRefresh.
// Cached files are recorded in index.json together with their size and
// SHA-256 digest; a file whose size no longer matches its index entry is
// fetched again.
//
// # Storage
//
// The cache lives in a platform-appropriate directory:
//   - Linux: $XDG_CACHE_HOME/<app>/matlib/ or ~/.cache/<app>/matlib/
//   - macOS: ~/Library/Caches/<app>/matlib/
//   - Windows: %LOCALAPPDATA%\<app>\matlib\
//
// The location can be overridden via Config.CacheDir or the
// <APPNAME>_MATLIB_DIR environment variable.
package matlib
