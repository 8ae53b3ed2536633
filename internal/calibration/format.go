// Package calibration loads, validates, caches, and hot-reloads
// calibration artifacts (dark frames, gain maps, defect maps). The
// binary artifact format's fixed header, encoding/binary field writes,
// and Validate()-on-magic-and-version idiom are grounded on the
// teacher's internal/protocol/frame.go AOCS frame header. Hash
// verification uses golang.org/x/crypto/blake2b, the teacher's only
// crypto dependency with a direct fit for payload integrity.
package calibration

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Magic identifies an HNVUE calibration artifact file.
var Magic = [4]byte{'H', 'N', 'C', 0x01}

const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
)

// ArtifactType names which kind of calibration a file holds.
type ArtifactType uint8

const (
	TypeDarkFrame ArtifactType = iota + 1
	TypeGainMap
	TypeDefectMap
	TypeScatterParams
)

// HeaderSize is the fixed on-disk header size in bytes:
// 4 (magic) + 1 (major) + 1 (minor) + 1 (type) + 4 (width) + 4 (height)
// + 8 (acquired-at unix) + 4 (payload length) + 32 (blake2b-256 hash).
const HeaderSize = 4 + 1 + 1 + 1 + 4 + 4 + 8 + 4 + 32

// Header is the fixed-size preamble of an artifact file.
type Header struct {
	Magic        [4]byte
	VersionMajor uint8
	VersionMinor uint8
	Type         ArtifactType
	Width        uint32
	Height       uint32
	AcquiredAt   int64 // unix seconds
	PayloadLen   uint32
	Hash         [32]byte // blake2b-256 of the payload
}

// Validate checks magic and major version; it does not check the hash
// (that requires the payload) or dimensions (that requires a target
// frame, checked by the caller).
func (h *Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("invalid magic bytes: %x", h.Magic)
	}
	if h.VersionMajor != VersionMajor {
		return fmt.Errorf("unsupported artifact version %d (expected %d)", h.VersionMajor, VersionMajor)
	}
	return nil
}

// Marshal serializes the header to its fixed-size wire form.
func (h *Header) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []any{h.Magic, h.VersionMajor, h.VersionMinor, h.Type, h.Width, h.Height, h.AcquiredAt, h.PayloadLen, h.Hash}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Unmarshal reads a header from its fixed-size wire form.
func (h *Header) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("header too short: %d bytes (need %d)", len(data), HeaderSize)
	}
	r := bytes.NewReader(data)
	fields := []any{&h.Magic, &h.VersionMajor, &h.VersionMinor, &h.Type, &h.Width, &h.Height, &h.AcquiredAt, &h.PayloadLen, &h.Hash}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// Artifact is a fully decoded, hash-verified calibration file.
type Artifact struct {
	Header  Header
	Payload []byte
}

// hashPayload returns the blake2b-256 digest of payload.
func hashPayload(payload []byte) [32]byte {
	return blake2b.Sum256(payload)
}

// ReadArtifact reads and structurally decodes an artifact from r,
// without yet verifying its hash (callers combine that with the age
// and dimension checks spec §4.10 requires before trusting it).
func ReadArtifact(r io.Reader) (*Artifact, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}
	var h Header
	if err := h.Unmarshal(headerBuf); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return &Artifact{Header: h, Payload: payload}, nil
}

// WriteArtifact serializes an artifact (computing its hash from
// payload) to w. Used by calibration-generation tooling and tests.
func WriteArtifact(w io.Writer, typ ArtifactType, width, height uint32, acquiredAt time.Time, payload []byte) error {
	h := Header{
		Magic:        Magic,
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		Type:         typ,
		Width:        width,
		Height:       height,
		AcquiredAt:   acquiredAt.Unix(),
		PayloadLen:   uint32(len(payload)),
		Hash:         hashPayload(payload),
	}
	headerBytes, err := h.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// EncodeFloatPayload packs a row-major []float64 into bytes, used for
// dark-frame offsets and gain-map coefficients.
func EncodeFloatPayload(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeFloatPayload unpacks bytes produced by EncodeFloatPayload.
func DecodeFloatPayload(data []byte) []float64 {
	values := make([]float64, len(data)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return values
}

// defectRecordSize is the on-disk size of one DefectRecord: 4 (x) + 4
// (y) + 1 (method).
const defectRecordSize = 4 + 4 + 1

// DefectRecord is one flagged pixel entry as stored in a defect-map
// artifact's payload.
type DefectRecord struct {
	X, Y   int32
	Method uint8
}

// EncodeDefectPayload packs defect records into bytes.
func EncodeDefectPayload(records []DefectRecord) []byte {
	buf := make([]byte, defectRecordSize*len(records))
	for i, rec := range records {
		off := i * defectRecordSize
		binary.LittleEndian.PutUint32(buf[off:], uint32(rec.X))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(rec.Y))
		buf[off+8] = rec.Method
	}
	return buf
}

// DecodeDefectPayload unpacks bytes produced by EncodeDefectPayload.
func DecodeDefectPayload(data []byte) []DefectRecord {
	n := len(data) / defectRecordSize
	records := make([]DefectRecord, n)
	for i := 0; i < n; i++ {
		off := i * defectRecordSize
		records[i] = DefectRecord{
			X:      int32(binary.LittleEndian.Uint32(data[off:])),
			Y:      int32(binary.LittleEndian.Uint32(data[off+4:])),
			Method: data[off+8],
		}
	}
	return records
}

// scatterParamsSize is the on-disk size of a ScatterParams payload: 8
// (cutoff_frequency) + 8 (suppression_ratio), both float64.
const scatterParamsSize = 8 + 8

// ScatterParams is the scalar payload of a TypeScatterParams artifact,
// per spec §3/§6: unlike the other three artifact types, its payload is
// a fixed scalar struct rather than a per-pixel array.
type ScatterParams struct {
	CutoffFrequency  float64
	SuppressionRatio float64
}

// EncodeScatterParamsPayload packs a ScatterParams into its fixed-size
// wire form.
func EncodeScatterParamsPayload(p ScatterParams) []byte {
	buf := make([]byte, scatterParamsSize)
	binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(p.CutoffFrequency))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.SuppressionRatio))
	return buf
}

// DecodeScatterParamsPayload unpacks bytes produced by
// EncodeScatterParamsPayload.
func DecodeScatterParamsPayload(data []byte) (ScatterParams, error) {
	if len(data) < scatterParamsSize {
		return ScatterParams{}, fmt.Errorf("scatter params payload too short: %d bytes (need %d)", len(data), scatterParamsSize)
	}
	return ScatterParams{
		CutoffFrequency:  math.Float64frombits(binary.LittleEndian.Uint64(data[0:])),
		SuppressionRatio: math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
	}, nil
}
