package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// ProfilesConfig holds named deployment-profile overrides: "dev",
// "sim", "clinical". Grounded on the teacher's TenantsConfig, with
// tenant ID replaced by deployment profile name since the console has
// no multi-tenant concept — it runs as exactly one profile per host.
type ProfilesConfig struct {
	Profiles map[string]Config `yaml:"profiles"`
}

// Manager resolves the effective config for a given profile by
// merging that profile's overrides on top of the global document.
type Manager struct {
	globalConfig *Config
	profiles     map[string]Config
	mu           sync.RWMutex
}

// NewManager loads the master config plus an optional profiles file.
// A missing profiles file is not an error: the console simply has no
// overrides beyond the master document.
func NewManager(masterPath, profilesPath string) (*Manager, error) {
	master, err := LoadConfig(masterPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(profilesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{globalConfig: master, profiles: map[string]Config{}}, nil
		}
		return nil, err
	}
	defer f.Close()

	var pc ProfilesConfig
	if err := yaml.NewDecoder(f).Decode(&pc); err != nil {
		return nil, err
	}

	return &Manager{globalConfig: master, profiles: pc.Profiles}, nil
}

// Get returns the effective config for profile. Each section of the
// global config is replaced whole by the profile's section when that
// section's key field (e.g. Generator.Transport, RingBuffer.Capacity)
// is set; fields are not merged individually, and Env is never
// overridden.
func (m *Manager) Get(profile string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.globalConfig

	override, ok := m.profiles[profile]
	if !ok {
		return &effective
	}

	if override.Generator.Transport != "" {
		effective.Generator = override.Generator
	}
	if override.Detector.PluginPath != "" {
		effective.Detector = override.Detector
	}
	if override.RingBuffer.Capacity != 0 {
		effective.RingBuffer = override.RingBuffer
	}
	if override.Dose.DailyLimitDAP != 0 || override.Dose.StudyLimitDAP != 0 {
		effective.Dose = override.Dose
	}
	if override.Journal.PostgresDSN != "" {
		effective.Journal = override.Journal
	}
	if override.IPC.CommandAddr != "" {
		effective.IPC = override.IPC
	}
	if override.Calibration.Directory != "" {
		effective.Calibration = override.Calibration
	}

	return &effective
}
