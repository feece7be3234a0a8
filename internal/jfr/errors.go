package jfr

import "errors"

// Sentinel errors surfaced by the reader. Wrapped with fmt.Errorf("...: %w", err)
// at the call site that detects the condition.
var (
	// ErrMalformed covers bad length prefixes, unknown CP class IDs, and
	// out-of-range CP references: structural decode failures that abort the run.
	ErrMalformed = errors.New("jfr: malformed input")

	// ErrMissingMetadata is returned when a feature depends on an optional
	// metadata type (e.g. jdk.types.ThreadState) that the file never declared.
	ErrMissingMetadata = errors.New("jfr: missing metadata")

	// ErrUnknownConstant flags a constant-pool reference that does not resolve
	// within the current file.
	ErrUnknownConstant = errors.New("jfr: unknown constant")
)
