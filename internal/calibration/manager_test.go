package calibration

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifactBytes(t *testing.T, typ ArtifactType, w, h uint32, acquiredAt time.Time, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteArtifact(&buf, typ, w, h, acquiredAt, payload))
	return buf.Bytes()
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func TestManagerLoadCachesValidArtifact(t *testing.T) {
	m := NewManager(0)
	payload := EncodeFloatPayload([]float64{1, 2, 3, 4})
	data := writeArtifactBytes(t, TypeDarkFrame, 2, 2, time.Now(), payload)

	dir := t.TempDir()
	path := dir + "/dark.cal"
	require.NoError(t, writeFile(path, data))

	art, err := m.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, TypeDarkFrame, art.Header.Type)

	cached, ok := m.Get(TypeDarkFrame)
	require.True(t, ok)
	assert.Equal(t, art, cached)
}

func TestManagerLoadRejectsCorruptHashAndKeepsPriorEntry(t *testing.T) {
	m := NewManager(0)

	good := writeArtifactBytes(t, TypeGainMap, 2, 2, time.Now(), EncodeFloatPayload([]float64{1, 1, 1, 1}))
	dir := t.TempDir()
	goodPath := dir + "/gain.cal"
	require.NoError(t, writeFile(goodPath, good))
	_, err := m.LoadFile(goodPath)
	require.NoError(t, err)

	corrupt := writeArtifactBytes(t, TypeGainMap, 2, 2, time.Now(), EncodeFloatPayload([]float64{9, 9, 9, 9}))
	corrupt[len(corrupt)-1] ^= 0xFF // flip a payload byte after the hash was computed
	corruptPath := dir + "/gain_bad.cal"
	require.NoError(t, writeFile(corruptPath, corrupt))

	_, err = m.LoadFile(corruptPath)
	assert.Error(t, err)

	cached, ok := m.Get(TypeGainMap)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1, 1, 1}, DecodeFloatPayload(cached.Payload))
}

func TestManagerLoadRejectsArtifactOlderThanMaxAge(t *testing.T) {
	m := NewManager(time.Hour)
	old := writeArtifactBytes(t, TypeDarkFrame, 1, 1, time.Now().Add(-2*time.Hour), EncodeFloatPayload([]float64{0}))

	dir := t.TempDir()
	path := dir + "/old.cal"
	require.NoError(t, writeFile(path, old))

	_, err := m.LoadFile(path)
	assert.Error(t, err)
}

func TestHotReloadReplacesCacheEntry(t *testing.T) {
	m := NewManager(0)
	dir := t.TempDir()

	first := writeArtifactBytes(t, TypeDarkFrame, 1, 1, time.Now(), EncodeFloatPayload([]float64{10}))
	firstPath := dir + "/first.cal"
	require.NoError(t, writeFile(firstPath, first))
	_, err := m.LoadFile(firstPath)
	require.NoError(t, err)

	second := writeArtifactBytes(t, TypeDarkFrame, 1, 1, time.Now(), EncodeFloatPayload([]float64{20}))
	secondPath := dir + "/second.cal"
	require.NoError(t, writeFile(secondPath, second))
	_, err = m.HotReload(secondPath)
	require.NoError(t, err)

	cached, ok := m.Get(TypeDarkFrame)
	require.True(t, ok)
	assert.Equal(t, []float64{20}, DecodeFloatPayload(cached.Payload))
}

func TestToCalibrationConvertsDefectMap(t *testing.T) {
	m := NewManager(0)
	payload := EncodeDefectPayload([]DefectRecord{{X: 1, Y: 1, Method: 2}})
	data := writeArtifactBytes(t, TypeDefectMap, 4, 4, time.Now(), payload)

	dir := t.TempDir()
	path := dir + "/defect.cal"
	require.NoError(t, writeFile(path, data))
	art, err := m.LoadFile(path)
	require.NoError(t, err)

	cal := ToCalibration(art)
	require.Len(t, cal.Defects, 1)
	assert.Equal(t, 1, cal.Defects[0].X)
}
