//go:build !darwin && !windows

package matlib

import (
	"os"
	"path/filepath"
)

// getDefaultCacheDir returns the default cache directory for Linux and
// other Unix systems.
// Uses $XDG_CACHE_HOME/<appName>/matlib/ if set,
// otherwise ~/.cache/<appName>/matlib/
func getDefaultCacheDir(appName string) (string, error) {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, appName, "matlib"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName, "matlib"), nil
}
