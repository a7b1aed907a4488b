package mtlx

import "errors"

// Sentinel errors for MaterialX operations.
var (
	// ErrInvalidDocument indicates malformed XML or a document that is
	// not a MaterialX document.
	ErrInvalidDocument = errors.New("mtlx: invalid document")

	// ErrUnsupportedVersion indicates a missing or too old version attribute.
	ErrUnsupportedVersion = errors.New("mtlx: unsupported version")

	// ErrUnknownType indicates a MaterialX type with no property mapping.
	ErrUnknownType = errors.New("mtlx: unknown type")

	// ErrInvalidValue indicates a value string that does not parse as its type.
	ErrInvalidValue = errors.New("mtlx: invalid value")

	// ErrNoNodeDef indicates a node whose category has no known node definition.
	ErrNoNodeDef = errors.New("mtlx: no nodedef for node")
)
