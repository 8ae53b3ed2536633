// Package detector loads detector vendor plugins through Go's stdlib
// plugin package and exposes the CreateDetector/DestroyDetector/
// GetPluginManifest ABI spec §4.5 defines. Registration bookkeeping
// (priority-free here, since only one detector is active per console)
// is grounded on the teacher's pkg/plugins/registry.go Registry type.
package detector

import (
	"fmt"
	"log"
	"plugin"
	"sync"

	"github.com/holee9/hnvue/internal/herrors"
)

// Manifest describes a loaded plugin's compatibility contract, per
// spec §6's manifest layout. APIVersion packs major/minor/patch into a
// single word as 0xMMmmpppp (major in the high byte, minor the next,
// patch the low two bytes), matching the wire-level manifest the load
// protocol version-checks against, rather than separate int fields.
type Manifest struct {
	APIVersion     uint32
	PluginVersion  string
	PluginName     string
	VendorName     string
	ModelName      string
	MaxFrameWidth  int
	MaxFrameHeight int
	MaxFrameRate   float64
}

// EncodeAPIVersion packs (major, minor, patch) into the 0xMMmmpppp word
// a manifest's APIVersion field carries.
func EncodeAPIVersion(major, minor, patch uint8) uint32 {
	return uint32(major)<<24 | uint32(minor)<<16 | uint32(patch)
}

// APIVersionMajor unpacks the major byte a version check compares.
func APIVersionMajor(v uint32) uint8 {
	return uint8(v >> 24)
}

// Frame is a single raw readout from the detector panel, ahead of the
// imaging pipeline's correction stages.
type Frame struct {
	Width  int
	Height int
	Pixels []uint16
}

// Detector is the ABI a plugin's CreateDetector factory must return.
// Its manifest is obtained separately, via the plugin's exported
// GetPluginManifest function, per spec §4.5's load ordering — it is
// not a method on Detector itself, since the manifest must be
// inspected and version-checked before CreateDetector is ever called.
type Detector interface {
	Acquire() (Frame, error)
	Close() error
}

// requiredAPIVersionMajor is the ABI major version the console
// supports; a plugin whose manifest reports any other major version is
// refused at load time rather than risked at acquire time.
const requiredAPIVersionMajor = 1

// Error codes for plugin boundary failures, per spec §4.5/§6's
// enumerated set.
const (
	ErrFileNotFound     = "FileNotFound"
	ErrMissingSymbol    = "MissingSymbol"
	ErrVersionMismatch  = "VersionMismatch"
	ErrInitFailed       = "InitFailed"
	ErrValidationFailed = "ValidationFailed"
)

// PluginError carries the structured {code, plugin_path, diagnostic}
// shape spec §4.5 requires for every plugin boundary failure.
type PluginError struct {
	Code       string
	PluginPath string
	Diagnostic string
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("detector plugin %s: [%s] %s", e.PluginPath, e.Code, e.Diagnostic)
}

// Registry tracks the single active detector plugin. Only one detector
// is live per console, but the registry still serializes load/unload
// against concurrent GetPluginManifest callers, the same discipline
// the teacher's plugin Registry applies to its many connector plugins.
type Registry struct {
	mu       sync.RWMutex
	active   Detector
	manifest Manifest
	path     string
	logger   *log.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{logger: log.New(log.Writer(), "[detector] ", log.LstdFlags)}
}

// CreateDetector opens the .so at path and runs the full load
// protocol spec §4.5 requires, in order: locate the GetPluginManifest
// and CreateDetector symbols, call GetPluginManifest, version-check
// its result, then call CreateDetector. Any failure along the way
// surfaces as a PluginError naming the failing stage in Diagnostic.
func (r *Registry) CreateDetector(path string) (Detector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, manifest, err := loadPlugin(path)
	if err != nil {
		return nil, err
	}

	r.active = d
	r.manifest = manifest
	r.path = path
	r.logger.Printf("loaded detector plugin %s (%s) v%#x from %s", manifest.PluginName, manifest.PluginVersion, manifest.APIVersion, path)
	return d, nil
}

// checkManifest rejects a manifest whose API version major byte
// doesn't match this console build, or whose declared frame bounds
// are unusable.
func checkManifest(m Manifest, path string) error {
	if APIVersionMajor(m.APIVersion) != requiredAPIVersionMajor {
		return &PluginError{
			Code:       ErrVersionMismatch,
			PluginPath: path,
			Diagnostic: fmt.Sprintf("plugin API version major %d, console requires %d", APIVersionMajor(m.APIVersion), requiredAPIVersionMajor),
		}
	}
	if m.MaxFrameWidth <= 0 || m.MaxFrameHeight <= 0 {
		return &PluginError{
			Code:       ErrValidationFailed,
			PluginPath: path,
			Diagnostic: fmt.Sprintf("manifest declares non-positive frame bounds %dx%d", m.MaxFrameWidth, m.MaxFrameHeight),
		}
	}
	return nil
}

// loadPlugin isolates the stdlib plugin-open/lookup/call sequence so
// faults there never escape as anything but a PluginError. It follows
// spec §4.5's ordering exactly: locate symbols, call GetPluginManifest,
// version-check, only then call CreateDetector.
func loadPlugin(path string) (d Detector, manifest Manifest, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d, manifest, err = nil, Manifest{}, &PluginError{Code: ErrInitFailed, PluginPath: path, Diagnostic: fmt.Sprint(rec)}
		}
	}()

	p, openErr := plugin.Open(path)
	if openErr != nil {
		return nil, Manifest{}, &PluginError{Code: ErrFileNotFound, PluginPath: path, Diagnostic: openErr.Error()}
	}

	manifestSym, lookupErr := p.Lookup("GetPluginManifest")
	if lookupErr != nil {
		return nil, Manifest{}, &PluginError{Code: ErrMissingSymbol, PluginPath: path, Diagnostic: lookupErr.Error()}
	}
	createSym, lookupErr := p.Lookup("CreateDetector")
	if lookupErr != nil {
		return nil, Manifest{}, &PluginError{Code: ErrMissingSymbol, PluginPath: path, Diagnostic: lookupErr.Error()}
	}
	getManifest, ok := manifestSym.(func() Manifest)
	if !ok {
		return nil, Manifest{}, &PluginError{Code: ErrMissingSymbol, PluginPath: path, Diagnostic: "exported GetPluginManifest does not have signature func() Manifest"}
	}

	m := getManifest()
	if checkErr := checkManifest(m, path); checkErr != nil {
		return nil, Manifest{}, checkErr
	}

	create, ok := createSym.(func() (Detector, error))
	if !ok {
		return nil, Manifest{}, &PluginError{Code: ErrMissingSymbol, PluginPath: path, Diagnostic: "exported CreateDetector does not have signature func() (Detector, error)"}
	}

	det, createErr := create()
	if createErr != nil {
		return nil, Manifest{}, &PluginError{Code: ErrInitFailed, PluginPath: path, Diagnostic: createErr.Error()}
	}

	return det, m, nil
}

// GetPluginManifest returns the active plugin's manifest, or a State
// error if nothing is loaded.
func (r *Registry) GetPluginManifest() (Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return Manifest{}, herrors.New("detector.GetPluginManifest", herrors.KindState, nil)
	}
	return r.manifest, nil
}

// DestroyDetector closes the active plugin and clears the registry.
// It is a no-op if nothing is loaded.
func (r *Registry) DestroyDetector() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	err := r.active.Close()
	r.active = nil
	r.manifest = Manifest{}
	r.path = ""
	if err != nil {
		return herrors.New("detector.DestroyDetector", herrors.KindPlugin, err)
	}
	return nil
}

// installForTest installs d and its manifest directly, bypassing
// plugin.Open, since the stdlib plugin loader needs a real .so on
// disk. Test-only.
func (r *Registry) installForTest(path string, d Detector, m Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = d
	r.manifest = m
	r.path = path
}

// Acquire delegates to the active plugin, or fails with a State error
// if none is loaded.
func (r *Registry) Acquire() (Frame, error) {
	r.mu.RLock()
	d := r.active
	r.mu.RUnlock()
	if d == nil {
		return Frame{}, herrors.New("detector.Acquire", herrors.KindState, nil)
	}
	return d.Acquire()
}
