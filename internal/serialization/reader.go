package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/tftransform/internal/errs"
)

// Reader reads entries from a container.
type Reader struct {
	ra         io.ReaderAt
	closer     io.Closer
	header     Header
	flags      uint32
	version    uint32
	dataOffset int64    // Offset where entry data starts
	dataSize   int64    // Size of the data section
	checksum   [32]byte // SHA-256 checksum (v2 only)
	opts       ReaderOptions
	closed     bool
}

// ReaderOptions configures the behavior of Reader.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// OpenFile opens a container file. Close releases the file.
func OpenFile(path string, opts ReaderOptions) (*Reader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "open container", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errs.Wrap(errs.ErrIO, "open container", path, err)
	}
	r, err := NewReader(file, info.Size(), opts)
	if err != nil {
		_ = file.Close() // Best effort close on error
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReader parses and validates the container stored in the first size bytes of ra.
// Every error it returns is an errs.ErrDecode.
func NewReader(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	r := &Reader{ra: ra, opts: opts}
	if err := r.parseHeader(size); err != nil {
		return nil, errs.Wrap(errs.ErrDecode, "read container", "", fmt.Errorf("failed to parse header: %w", err))
	}
	if err := ValidateHeader(&r.header, r.dataSize, opts.ValidationLevel); err != nil {
		return nil, errs.Wrap(errs.ErrDecode, "read container", "", fmt.Errorf("validation failed: %w", err))
	}
	return r, nil
}

// parseHeader reads the fixed header and the JSON header.
func (r *Reader) parseHeader(size int64) error {
	if size < 8 {
		return fmt.Errorf("file too short: %d bytes", size)
	}
	prefix := make([]byte, 8)
	if _, err := r.ra.ReadAt(prefix, 0); err != nil {
		return fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(prefix[:4]) != MagicBytes {
		return ErrInvalidMagic
	}
	r.version = binary.LittleEndian.Uint32(prefix[4:8])

	switch r.version {
	case FormatVersionV1:
		return r.parseHeaderV1(size)
	case FormatVersionV2:
		return r.parseHeaderV2(size)
	default:
		return fmt.Errorf("%w: got %d, expected %d or %d", ErrUnsupportedVersion, r.version, FormatVersionV1, FormatVersionV2)
	}
}

// parseHeaderV1 parses the legacy frozen-only header.
func (r *Reader) parseHeaderV1(size int64) error {
	fixedHeader, err := r.readFixed(FixedHeaderSizeV1, size)
	if err != nil {
		return err
	}
	r.flags = binary.LittleEndian.Uint32(fixedHeader[8:12])
	headerSize := binary.LittleEndian.Uint64(fixedHeader[12:20])

	if err := r.readJSON(FixedHeaderSizeV1, headerSize, size); err != nil {
		return err
	}
	r.dataSize = size - r.dataOffset

	// Version 1 predates the frozen flag and the output list.
	r.header.Frozen = true
	if len(r.header.Outputs) == 0 && r.header.Output != "" {
		r.header.Outputs = []string{r.header.Output}
	}
	return nil
}

// parseHeaderV2 parses the current header and checks the data checksum.
func (r *Reader) parseHeaderV2(size int64) error {
	fixedHeader, err := r.readFixed(FixedHeaderSizeV2, size)
	if err != nil {
		return err
	}
	r.flags = binary.LittleEndian.Uint32(fixedHeader[8:12])
	headerSize := binary.LittleEndian.Uint64(fixedHeader[16:24])
	dataSize := binary.LittleEndian.Uint64(fixedHeader[24:32])
	copy(r.checksum[:], fixedHeader[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])

	if err := r.readJSON(FixedHeaderSizeV2, headerSize, size); err != nil {
		return err
	}
	//nolint:gosec // G115: compared against the file size below
	r.dataSize = int64(dataSize)
	if r.dataSize < 0 || r.dataOffset+r.dataSize > size {
		return fmt.Errorf("%w: data section of %d bytes at %d exceeds file size %d", ErrOutOfBounds, dataSize, r.dataOffset, size)
	}

	if !r.opts.SkipChecksumValidation {
		computed, err := sectionChecksum(io.NewSectionReader(r.ra, r.dataOffset, r.dataSize))
		if err != nil {
			return fmt.Errorf("failed to read entry data for checksum: %w", err)
		}
		if computed != r.checksum {
			return ErrChecksumMismatch
		}
	}
	return nil
}

func (r *Reader) readFixed(n int, size int64) ([]byte, error) {
	if size < int64(n) {
		return nil, fmt.Errorf("file too short for a version %d header: %d bytes", r.version, size)
	}
	buf := make([]byte, n)
	if _, err := r.ra.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	return buf, nil
}

// readJSON decodes the JSON header at offset and sets the data offset.
func (r *Reader) readJSON(offset int64, headerSize uint64, size int64) error {
	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}
	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	end := offset + int64(headerSize)
	if end > size {
		return fmt.Errorf("header of %d bytes exceeds file size %d", headerSize, size)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := r.ra.ReadAt(headerBytes, offset); err != nil {
		return fmt.Errorf("failed to read header JSON: %w", err)
	}
	if err := json.Unmarshal(headerBytes, &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}
	r.dataOffset = end + padding(end)
	if r.dataOffset > size {
		r.dataOffset = size
	}
	return nil
}

// Header returns the file header.
func (r *Reader) Header() Header {
	return r.header
}

// Version returns the container format version.
func (r *Reader) Version() uint32 {
	return r.version
}

// Open returns a reader over the bytes of the entry stored under path.
func (r *Reader) Open(path string) (*io.SectionReader, error) {
	if r.closed {
		return nil, fmt.Errorf("reader is closed")
	}
	e, ok := r.header.Entry(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, path)
	}
	return io.NewSectionReader(r.ra, r.dataOffset+e.Offset, e.Size), nil
}

// ReadEntry reads the bytes of the entry stored under path.
func (r *Reader) ReadEntry(path string) ([]byte, error) {
	sr, err := r.Open(path)
	if err != nil {
		return nil, err
	}
	data := make([]byte, sr.Size())
	if _, err := io.ReadFull(sr, data); err != nil {
		return nil, errs.Wrap(errs.ErrDecode, "read entry", path, err)
	}
	return data, nil
}

// Close closes the reader and the underlying file, if any.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
