package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

const producer = "tftransform"

// Payload is the content of one entry.
type Payload struct {
	Path string
	Size int64
	Open func() (io.ReadCloser, error)
}

// BytesPayload stores data under path.
func BytesPayload(path string, data []byte) Payload {
	return Payload{
		Path: path,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// FilePayload stores the contents of filename under path.
func FilePayload(path, filename string) (Payload, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to stat %s: %w", filename, err)
	}
	if !info.Mode().IsRegular() {
		return Payload{}, fmt.Errorf("%s is not a regular file", filename)
	}
	return Payload{
		Path: path,
		Size: info.Size(),
		//nolint:gosec // G304: model files are chosen by the caller
		Open: func() (io.ReadCloser, error) { return os.Open(filename) },
	}, nil
}

// WriterOptions configures Write.
type WriterOptions struct {
	// Version selects the container format. Zero means FormatVersion.
	Version uint32
}

// WriteFile writes a container to filename.
func WriteFile(filename string, header Header, payloads []Payload, opts WriterOptions) (err error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()
	return Write(file, header, payloads, opts)
}

// Write writes header and the payload bytes as one container. The entry
// list of header is computed from payloads.
//
//nolint:gocyclo,cyclop // Complex writer logic is unavoidable for binary format
func Write(w io.Writer, header Header, payloads []Payload, opts WriterOptions) error {
	version := opts.Version
	if version == 0 {
		version = FormatVersion
	}

	header.FormatVersion = int(version)
	if header.Producer == "" {
		header.Producer = producer
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}

	switch version {
	case FormatVersionV1:
		if !header.Frozen {
			return fmt.Errorf("%w: version %d stores frozen graphs only", ErrUnsupportedVersion, version)
		}
		if len(header.Outputs) != 1 {
			return fmt.Errorf("%w: version %d stores exactly one output, got %d", ErrUnsupportedVersion, version, len(header.Outputs))
		}
		header.Output, header.Outputs = header.Outputs[0], nil
	case FormatVersionV2:
		header.Output = ""
	default:
		return fmt.Errorf("%w: got %d", ErrUnsupportedVersion, version)
	}

	var offset int64
	header.Entries = make([]Entry, 0, len(payloads))
	for _, p := range payloads {
		if err := ValidateEntryPath(p.Path); err != nil {
			return err
		}
		header.Entries = append(header.Entries, Entry{Path: p.Path, Offset: offset, Size: p.Size})
		offset += p.Size
	}
	dataSize := offset

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	headerSize := uint64(len(headerJSON))

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}

	var fixedHeader []byte
	if version == FormatVersionV1 {
		fixedHeader = make([]byte, FixedHeaderSizeV1)
		copy(fixedHeader[0:4], MagicBytes)
		binary.LittleEndian.PutUint32(fixedHeader[4:8], version)
		binary.LittleEndian.PutUint32(fixedHeader[8:12], flags)
		binary.LittleEndian.PutUint64(fixedHeader[12:20], headerSize)
	} else {
		checksum, err := payloadChecksum(payloads)
		if err != nil {
			return err
		}
		// 0x00 magic, 0x04 version, 0x08 flags, 0x0C reserved,
		// 0x10 header size, 0x18 data size, 0x20 checksum.
		fixedHeader = make([]byte, FixedHeaderSizeV2)
		copy(fixedHeader[0:4], MagicBytes)
		binary.LittleEndian.PutUint32(fixedHeader[4:8], version)
		binary.LittleEndian.PutUint32(fixedHeader[8:12], flags)
		binary.LittleEndian.PutUint64(fixedHeader[16:24], headerSize)
		//nolint:gosec // G115: data size is a sum of non-negative file sizes
		binary.LittleEndian.PutUint64(fixedHeader[24:32], uint64(dataSize))
		copy(fixedHeader[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], checksum[:])
	}

	if _, err := w.Write(fixedHeader); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	//nolint:gosec // G115: headerSize is small (< 100MB max), conversion is safe
	currentPos := int64(len(fixedHeader)) + int64(headerSize)
	if pad := padding(currentPos); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := writeData(w, payloads); err != nil {
		return err
	}
	return nil
}

// writeData copies every payload to w in order.
func writeData(w io.Writer, payloads []Payload) (int64, error) {
	var total int64
	for _, p := range payloads {
		rc, err := p.Open()
		if err != nil {
			return total, fmt.Errorf("failed to open entry %s: %w", p.Path, err)
		}
		n, err := io.Copy(w, rc)
		_ = rc.Close()
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to write entry %s: %w", p.Path, err)
		}
		if n != p.Size {
			return total, fmt.Errorf("entry %s: wrote %d bytes, expected %d", p.Path, n, p.Size)
		}
	}
	return total, nil
}
