package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"
)

// TestPayloadChecksumMatchesDataSection verifies the header checksum covers exactly the written data section.
func TestPayloadChecksumMatchesDataSection(t *testing.T) {
	payloads := savedModelPayloads()
	data := encode(t, Header{Inputs: []string{"x"}, Outputs: []string{"y"}}, payloads, WriterOptions{})

	headerSize := binary.LittleEndian.Uint64(data[16:24])
	dataSize := binary.LittleEndian.Uint64(data[24:32])
	end := FixedHeaderSizeV2 + int64(headerSize)
	start := end + padding(end)

	section, err := sectionChecksum(bytes.NewReader(data[start : start+int64(dataSize)]))
	if err != nil {
		t.Fatalf("sectionChecksum failed: %v", err)
	}
	stored := data[ChecksumOffsetV2 : ChecksumOffsetV2+ChecksumSize]
	if !bytes.Equal(section[:], stored) {
		t.Errorf("Stored checksum %x does not match data section %x", stored, section)
	}

	fromPayloads, err := payloadChecksum(payloads)
	if err != nil {
		t.Fatalf("payloadChecksum failed: %v", err)
	}
	if fromPayloads != section {
		t.Error("Payload checksum should equal the checksum of the written section")
	}
}

// TestPayloadChecksumShortPayload fails when a payload yields fewer bytes than it declares.
func TestPayloadChecksumShortPayload(t *testing.T) {
	p := BytesPayload("graph.pb", []byte("graph"))
	p.Size = 10
	if _, err := payloadChecksum([]Payload{p}); err == nil {
		t.Error("Expected an error when a payload is shorter than its declared size")
	}
}

// TestSectionChecksumEmpty pins the digest of an empty data section.
func TestSectionChecksumEmpty(t *testing.T) {
	sum, err := sectionChecksum(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("sectionChecksum failed: %v", err)
	}
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
