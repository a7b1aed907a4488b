// Package config handles loading and validation of hdusd configuration.
//
// Configuration is read from ~/.config/hdusd/config.toml, or from the file
// named by the HDUSD_CONFIG environment variable.
//
// # Configuration Sources (highest priority first)
//
//   - HDUSD_MATLIB_DIR env var: material cache directory (applied by matlib)
//   - Config file settings
//   - Default values
//
// # Key Settings
//
//   - catalog_url: base URL of the material library API
//   - cache_dir: material cache directory (must be absolute or ~/...)
//   - max_age: how long cached catalog files stay fresh ("0s" = forever)
//   - timeout: HTTP request timeout
//   - concurrency: parallel downloads for thumbnails
//
// The [prims] section configures the prim-path filter:
//
//	[prims]
//	max_results = 100
//
// The [mtlx] section lists directories with MaterialX node-definition
// libraries loaded by "hdusd mtlx":
//
//	[mtlx]
//	library_dirs = ["~/MaterialX/libraries"]
package config
