package serialization

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize   = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxEntryCount   = 10_000            // Maximum number of entries in a file
	MaxEntryPathLen = 4096              // Maximum entry path length
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all validation checks (default, recommended for production).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal performs basic validation checks only.
	ValidationNormal
	// ValidationNone skips validation (dangerous! Use only with trusted input).
	ValidationNone
)

// ValidateEntryOffsets checks for overlapping entries and out-of-bounds access.
func ValidateEntryOffsets(entries []Entry, dataSize int64) error {
	if len(entries) > MaxEntryCount {
		return &ValidationError{
			Type:    "too_many_entries",
			Details: fmt.Sprintf("got %d, max %d", len(entries), MaxEntryCount),
			Err:     ErrTooManyEntries,
		}
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, e := range sorted {
		if e.Offset < 0 || e.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Entry:   e.Path,
				Details: fmt.Sprintf("offset=%d, size=%d (negative values not allowed)", e.Offset, e.Size),
				Err:     ErrOutOfBounds,
			}
		}

		if e.Offset+e.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Entry:   e.Path,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", e.Offset, e.Size, dataSize),
				Err:     ErrOutOfBounds,
			}
		}

		if i < len(sorted)-1 {
			next := sorted[i+1]
			if e.Offset+e.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Entry:   e.Path,
					Entry2:  next.Path,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", e.Offset, e.Offset+e.Size, next.Offset, next.Offset+next.Size),
					Err:     ErrOffsetOverlap,
				}
			}
		}
	}

	return nil
}

// ValidateEntryPath checks that p is a clean relative slash path that stays
// inside the extraction directory.
func ValidateEntryPath(p string) error {
	invalid := func(details string) error {
		return &ValidationError{Type: "invalid_path", Entry: p, Details: details, Err: ErrInvalidEntryPath}
	}
	switch {
	case p == "":
		return invalid("empty path")
	case len(p) > MaxEntryPathLen:
		return invalid(fmt.Sprintf("length %d > max %d", len(p), MaxEntryPathLen))
	case strings.Contains(p, "\x00"):
		return invalid("contains null byte")
	case strings.Contains(p, "\\"):
		return invalid("contains backslash")
	case path.IsAbs(p):
		return invalid("absolute path")
	case path.Clean(p) != p:
		return invalid("path is not clean")
	case p == ".." || strings.HasPrefix(p, "../"):
		return invalid("escapes the extraction directory")
	}
	return nil
}

// ValidateHeader performs comprehensive header validation.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}

	if len(h.Entries) > MaxEntryCount {
		return &ValidationError{
			Type:    "too_many_entries",
			Details: fmt.Sprintf("got %d, max %d", len(h.Entries), MaxEntryCount),
			Err:     ErrTooManyEntries,
		}
	}

	seen := make(map[string]bool, len(h.Entries))
	for _, e := range h.Entries {
		if err := ValidateEntryPath(e.Path); err != nil {
			return err
		}
		if seen[e.Path] {
			return &ValidationError{Type: "duplicate_path", Entry: e.Path, Details: "stored twice", Err: ErrInvalidEntryPath}
		}
		seen[e.Path] = true
	}

	if len(h.Inputs) == 0 {
		return &ValidationError{Type: "no_inputs", Details: "header lists no input names"}
	}
	if len(h.Outputs) == 0 {
		return &ValidationError{Type: "no_outputs", Details: "header lists no output names"}
	}

	if level == ValidationStrict {
		if err := ValidateEntryOffsets(h.Entries, dataSize); err != nil {
			return err
		}
	}

	return nil
}
