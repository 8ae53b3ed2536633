package calibration

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/holee9/hnvue/internal/herrors"
	"github.com/holee9/hnvue/internal/imaging"
)

// Manager loads, validates, caches, and hot-reloads calibration
// artifacts, one per ArtifactType. Grounded on the teacher's
// circuitbreaker.Manager map[string]*X + RWMutex registry, keyed here
// by artifact type instead of breaker name.
type Manager struct {
	mu      sync.RWMutex
	cache   map[ArtifactType]*Artifact
	maxAge  time.Duration // 0 disables the acquisition-age check
}

// NewManager constructs an empty Manager. maxAge bounds how old an
// artifact's AcquiredAt may be at load time; zero disables the check.
func NewManager(maxAge time.Duration) *Manager {
	return &Manager{cache: map[ArtifactType]*Artifact{}, maxAge: maxAge}
}

// LoadFile loads and validates the artifact at path, replacing any
// prior cached entry of the same type on success. A check failure
// returns an error and leaves the existing cache entry untouched —
// the spec's "any check failure returns an invalid artifact and does
// not evict the current cache entry."
func (m *Manager) LoadFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, herrors.New("calibration.LoadFile", herrors.KindCalibration, err)
	}
	return m.load(bytes.NewReader(data))
}

// HotReload is LoadFile's intended entry point for replacing a live
// artifact: it performs the same checks and, on success, frame
// processing started after this call observes the new artifact. No
// quiescing of the imaging pipeline is required since the swap is a
// single atomic map write under the cache lock.
func (m *Manager) HotReload(path string) (*Artifact, error) {
	return m.LoadFile(path)
}

func (m *Manager) load(r *bytes.Reader) (*Artifact, error) {
	art, err := ReadArtifact(r)
	if err != nil {
		return nil, herrors.New("calibration.load", herrors.KindCalibration, err)
	}

	if m.maxAge > 0 {
		age := time.Since(time.Unix(art.Header.AcquiredAt, 0))
		if age > m.maxAge {
			return nil, herrors.New("calibration.load", herrors.KindCalibration, fmt.Errorf("artifact is %s old, exceeds max age %s", age, m.maxAge))
		}
	}

	if hashPayload(art.Payload) != art.Header.Hash {
		return nil, herrors.New("calibration.load", herrors.KindCalibration, fmt.Errorf("payload hash mismatch"))
	}

	m.mu.Lock()
	m.cache[art.Header.Type] = art
	m.mu.Unlock()

	return art, nil
}

// Get returns the currently cached artifact of typ, if any.
func (m *Manager) Get(typ ArtifactType) (*Artifact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	art, ok := m.cache[typ]
	return art, ok
}

// ToCalibration converts a cached artifact into the imaging package's
// Calibration shape, ready to hand to a pipeline Config.
func ToCalibration(art *Artifact) imaging.Calibration {
	w, h := int(art.Header.Width), int(art.Header.Height)
	switch art.Header.Type {
	case TypeDarkFrame:
		return imaging.Calibration{Type: imaging.CalDarkFrame, Width: w, Height: h, Values: DecodeFloatPayload(art.Payload), Valid: true}
	case TypeGainMap:
		return imaging.Calibration{Type: imaging.CalGainMap, Width: w, Height: h, Values: DecodeFloatPayload(art.Payload), Valid: true}
	case TypeDefectMap:
		records := DecodeDefectPayload(art.Payload)
		entries := make([]imaging.DefectEntry, len(records))
		for i, rec := range records {
			entries[i] = imaging.DefectEntry{X: int(rec.X), Y: int(rec.Y), Method: imaging.DefectMethod(rec.Method)}
		}
		return imaging.Calibration{Type: imaging.CalDefectMap, Width: w, Height: h, Defects: entries, Valid: true}
	case TypeScatterParams:
		params, err := DecodeScatterParamsPayload(art.Payload)
		if err != nil {
			return imaging.Calibration{}
		}
		return imaging.Calibration{
			Type:    imaging.CalScatterParams,
			Scatter: &imaging.ScatterConfig{CutoffFrequency: params.CutoffFrequency, SuppressionRatio: params.SuppressionRatio},
			Valid:   true,
		}
	default:
		return imaging.Calibration{}
	}
}
