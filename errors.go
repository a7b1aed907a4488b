package matlib

import (
	"errors"
)

// Sentinel errors for material library operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrNotFound indicates the catalog has no entry with the requested id.
	ErrNotFound = errors.New("matlib: not found in catalog")

	// ErrAmbiguousID indicates an id prefix matched more than one material.
	ErrAmbiguousID = errors.New("matlib: ambiguous id prefix")

	// ErrNetworkError indicates a network or connection failure.
	// Operations failing with it can be retried.
	ErrNetworkError = errors.New("matlib: network error")

	// ErrCatalogError indicates the catalog returned invalid or unparseable data.
	ErrCatalogError = errors.New("matlib: invalid catalog response")

	// ErrStorageError indicates a filesystem operation failed.
	ErrStorageError = errors.New("matlib: storage error")

	// ErrNoMaterialX indicates an extracted package contains no .mtlx file.
	ErrNoMaterialX = errors.New("matlib: no MaterialX file in package")

	// ErrInvalidID indicates an empty or malformed catalog id.
	ErrInvalidID = errors.New("matlib: invalid id")

	// ErrInvalidArgument indicates a bad command line value, such as an
	// unknown output format.
	ErrInvalidArgument = errors.New("matlib: invalid argument")
)

// IsRetryable reports whether err is a transient failure that may succeed
// when the same fetch is attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetworkError)
}
