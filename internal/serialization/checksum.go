package serialization

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// sectionChecksum hashes the data section read from r.
func sectionChecksum(r io.Reader) ([ChecksumSize]byte, error) {
	var sum [ChecksumSize]byte
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// payloadChecksum hashes the data section the payloads will form once
// written, so the fixed header can be emitted before the entries.
func payloadChecksum(payloads []Payload) ([ChecksumSize]byte, error) {
	var sum [ChecksumSize]byte
	h := sha256.New()
	if _, err := writeData(h, payloads); err != nil {
		return sum, fmt.Errorf("failed to hash entries: %w", err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
