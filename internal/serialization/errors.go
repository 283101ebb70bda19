package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrOffsetOverlap      = errors.New("entry offsets overlap")
	ErrOutOfBounds        = errors.New("entry extends beyond data section")
	ErrTooManyEntries     = errors.New("too many entries in file")
	ErrInvalidEntryPath   = errors.New("invalid entry path")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrEntryNotFound      = errors.New("entry not found")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Type    string // Type of error (e.g., "offset_overlap", "out_of_bounds")
	Entry   string // Primary entry path involved
	Entry2  string // Secondary entry path (for overlap errors)
	Details string // Additional details
	Err     error  // Matching sentinel, if any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Entry2 != "" {
		return fmt.Sprintf("%s: entries %q and %q: %s", e.Type, e.Entry, e.Entry2, e.Details)
	}
	if e.Entry != "" {
		return fmt.Sprintf("%s: entry %q: %s", e.Type, e.Entry, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// Unwrap returns the matching sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
