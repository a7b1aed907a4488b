// Command hdusd is the command line front end of the hdusd material tools:
// the remote MaterialX material library and its local cache, prim-path
// filtering and material assignment on stage files, and MaterialX
// node-definition inspection.
//
// Configuration is read from ~/.config/hdusd/config.toml, or from the file
// named by HDUSD_CONFIG. HDUSD_MATLIB_DIR overrides the cache directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	matlib "github.com/bnagirniak/hdusd"
	"github.com/bnagirniak/hdusd/internal/config"
	"github.com/bnagirniak/hdusd/internal/log"
	"github.com/bnagirniak/hdusd/mtlx"
	"github.com/bnagirniak/hdusd/primpath"
	"github.com/bnagirniak/hdusd/stage"
)

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidArgs indicates invalid command line arguments.
	ExitInvalidArgs = 2

	// ExitNotFound indicates a material, package or prim was not found.
	ExitNotFound = 3

	// ExitNoMaterialX indicates a package holds no MaterialX document.
	ExitNoMaterialX = 4

	// ExitNetworkError indicates a network or connection failure.
	ExitNetworkError = 5

	// ExitCatalogError indicates the catalog returned invalid data.
	ExitCatalogError = 6

	// ExitStorageError indicates a filesystem operation failed.
	ExitStorageError = 7

	// ExitInvalidDocument indicates an unreadable MaterialX document.
	ExitInvalidDocument = 8
)

// errInvalidArgs marks malformed flag values detected by the commands.
var errInvalidArgs = errors.New("invalid arguments")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config) int {
	cmd := newRootCmd(cfg, matlib.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return exitCodeFromError(err)
	}
	return ExitSuccess
}

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, matlib.ErrNotFound), errors.Is(err, stage.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, matlib.ErrNoMaterialX):
		return ExitNoMaterialX
	case errors.Is(err, matlib.ErrNetworkError):
		return ExitNetworkError
	case errors.Is(err, matlib.ErrCatalogError):
		return ExitCatalogError
	case errors.Is(err, matlib.ErrStorageError):
		return ExitStorageError
	case errors.Is(err, matlib.ErrInvalidID),
		errors.Is(err, matlib.ErrAmbiguousID),
		errors.Is(err, primpath.ErrInvalidPattern),
		errors.Is(err, stage.ErrInvalidPath),
		errors.Is(err, stage.ErrNotMaterial),
		errors.Is(err, matlib.ErrInvalidArgument),
		errors.Is(err, log.ErrInvalidFlag),
		errors.Is(err, errInvalidArgs):
		return ExitInvalidArgs
	case errors.Is(err, mtlx.ErrInvalidDocument),
		errors.Is(err, mtlx.ErrUnsupportedVersion),
		errors.Is(err, mtlx.ErrUnknownType),
		errors.Is(err, mtlx.ErrInvalidValue),
		errors.Is(err, mtlx.ErrNoNodeDef):
		return ExitInvalidDocument
	default:
		return ExitGeneralError
	}
}
