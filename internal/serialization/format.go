package serialization

import (
	"time"
)

// Format constants.
const (
	MagicBytes        = "TFXM"
	FormatVersionV1   = 1    // v1: frozen graph only, single output, no checksum
	FormatVersionV2   = 2    // v2: frozen flag, output list, saved models, SHA-256 checksum
	FormatVersion     = FormatVersionV2
	HeaderAlignment   = 64   // Align entry data to 64 bytes
	FixedHeaderSizeV1 = 20   // magic + version + flags + header size
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffsetV2  = 0x20 // Checksum offset in v2 fixed header
)

// Flags for the container.
const (
	FlagHasMetadata uint32 = 1 << 2 // bit 2: custom metadata included
)

// GraphEntry is the entry path of a frozen graph definition.
const GraphEntry = "graph.pb"

// Header is the JSON header of a container.
type Header struct {
	FormatVersion int       `json:"format_version"`
	Producer      string    `json:"producer,omitempty"` // Tool and version that wrote the file
	CreatedAt     time.Time `json:"created_at"`
	// Frozen reports whether the model is a single graph definition with
	// parameters baked in. Version 1 containers are always frozen.
	Frozen  bool     `json:"frozen"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs,omitempty"`
	// Output is the single output name of a version 1 container.
	Output   string            `json:"output,omitempty"`
	Entries  []Entry           `json:"entries"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Entry locates one stored file in the data section.
type Entry struct {
	Path   string `json:"path"`   // Relative slash-separated path, e.g. "variables/variables.index"
	Offset int64  `json:"offset"` // Offset in the data section
	Size   int64  `json:"size"`   // Size in bytes
}

// Entry returns the entry stored under path.
func (h *Header) Entry(path string) (Entry, bool) {
	for _, e := range h.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

func padding(pos int64) int64 {
	return (HeaderAlignment - (pos % HeaderAlignment)) % HeaderAlignment
}
