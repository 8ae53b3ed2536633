package calibration

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadArtifactRoundTrip(t *testing.T) {
	values := []float64{1.5, 2.25, -3.0, 0}
	payload := EncodeFloatPayload(values)

	var buf bytes.Buffer
	require.NoError(t, WriteArtifact(&buf, TypeDarkFrame, 2, 2, time.Now(), payload))

	art, err := ReadArtifact(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeDarkFrame, art.Header.Type)
	assert.Equal(t, uint32(2), art.Header.Width)
	assert.Equal(t, values, DecodeFloatPayload(art.Payload))
}

func TestHeaderValidateRejectsBadMagic(t *testing.T) {
	h := Header{Magic: [4]byte{'X', 'X', 'X', 'X'}, VersionMajor: VersionMajor}
	assert.Error(t, h.Validate())
}

func TestHeaderValidateRejectsWrongMajorVersion(t *testing.T) {
	h := Header{Magic: Magic, VersionMajor: VersionMajor + 1}
	assert.Error(t, h.Validate())
}

func TestDefectPayloadRoundTrip(t *testing.T) {
	records := []DefectRecord{{X: 10, Y: 20, Method: 1}, {X: -1, Y: 5, Method: 2}}
	data := EncodeDefectPayload(records)
	assert.Equal(t, records, DecodeDefectPayload(data))
}
