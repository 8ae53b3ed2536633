// Package config loads the console's YAML configuration document and
// applies environment overrides for local and simulator runs.
// Generalized from the teacher's internal/config/config.go: same
// struct-per-concern layout, gopkg.in/yaml.v2 decode, getEnv*
// override helpers, and a Get() singleton loaded once at process
// start.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full console configuration document.
type Config struct {
	Generator   GeneratorConfig   `yaml:"generator"`
	Detector    DetectorConfig    `yaml:"detector"`
	RingBuffer  RingBufferConfig  `yaml:"ring_buffer"`
	Dose        DoseConfig        `yaml:"dose"`
	Journal     JournalConfig     `yaml:"journal"`
	IPC         IPCConfig         `yaml:"ipc"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Env         string            `yaml:"env"`
}

// GeneratorConfig selects the HVG transport.
type GeneratorConfig struct {
	Transport  string `yaml:"transport"` // "serial", "tcp", or "simulator"
	SerialPort string `yaml:"serial_port"`
	TCPAddr    string `yaml:"tcp_addr"`
	QueueDepth int    `yaml:"queue_depth"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	RetryCount int    `yaml:"retry_count"`
}

// DetectorConfig names where vendor plugin .so files are discovered.
type DetectorConfig struct {
	PluginPath string `yaml:"plugin_path"`
}

// RingBufferConfig sizes the DMA ring buffer and its overwrite policy.
type RingBufferConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"` // "drop_oldest" or "block_producer"
}

// DoseConfig carries the configured study/daily limits and warning
// threshold; zero-value limit fields mean "absent" at the tracker.
type DoseConfig struct {
	StudyLimitDAP       float64 `yaml:"study_limit_dap"`
	DailyLimitDAP       float64 `yaml:"daily_limit_dap"`
	WarningThresholdPct float64 `yaml:"warning_threshold_pct"`
	RedisAddr           string  `yaml:"redis_addr"`
}

// JournalConfig is the Postgres DSN for the durable workflow journal.
type JournalConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// IPCConfig binds the four external-facing service surfaces.
type IPCConfig struct {
	CommandAddr string `yaml:"command_addr"`
	StreamAddr  string `yaml:"stream_addr"`
	HealthAddr  string `yaml:"health_addr"`
	ConfigAddr  string `yaml:"config_addr"`
	SPIFFEPath  string `yaml:"spiffe_socket_path"`
}

// CalibrationConfig bounds how stale a loaded artifact may be.
type CalibrationConfig struct {
	MaxAgeHours int    `yaml:"max_age_hours"`
	Directory   string `yaml:"directory"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton config, loading it from
// CONFIG_PATH (default "config.yaml") the first time it is called.
func Get() *Config {
	once.Do(func() {
		_ = godotenv.Load() // best-effort; absent .env is not an error

		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = defaultConfig()
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

func defaultConfig() *Config {
	return &Config{
		Generator:  GeneratorConfig{Transport: "simulator", QueueDepth: 16, TimeoutMs: 500, RetryCount: 3},
		RingBuffer: RingBufferConfig{Capacity: 64, Policy: "drop_oldest"},
		Dose:       DoseConfig{WarningThresholdPct: 0.8},
		IPC: IPCConfig{
			CommandAddr: ":8081",
			StreamAddr:  ":8082",
			HealthAddr:  ":8083",
			ConfigAddr:  ":8084",
		},
	}
}

// LoadConfig reads and decodes a YAML config document from path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := defaultConfig()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CalibrationMaxAge converts the configured hour count to a
// time.Duration, defaulting to 0 (check disabled) when unset.
func (c *Config) CalibrationMaxAge() time.Duration {
	if c.Calibration.MaxAgeHours <= 0 {
		return 0
	}
	return time.Duration(c.Calibration.MaxAgeHours) * time.Hour
}

// applyEnvOverrides mirrors the teacher's env-override pass: an
// environment variable, when set, wins over whatever the YAML
// document or default supplied.
func (c *Config) applyEnvOverrides() {
	c.Env = getEnv("HNVUE_ENV", c.Env)

	c.Generator.Transport = getEnv("HNVUE_GENERATOR_TRANSPORT", c.Generator.Transport)
	c.Generator.SerialPort = getEnv("HNVUE_GENERATOR_SERIAL_PORT", c.Generator.SerialPort)
	c.Generator.TCPAddr = getEnv("HNVUE_GENERATOR_TCP_ADDR", c.Generator.TCPAddr)
	if v := getEnvInt("HNVUE_GENERATOR_QUEUE_DEPTH", 0); v > 0 {
		c.Generator.QueueDepth = v
	}

	c.Detector.PluginPath = getEnv("HNVUE_DETECTOR_PLUGIN_PATH", c.Detector.PluginPath)

	if v := getEnvFloat("HNVUE_DOSE_STUDY_LIMIT_DAP", 0); v > 0 {
		c.Dose.StudyLimitDAP = v
	}
	if v := getEnvFloat("HNVUE_DOSE_DAILY_LIMIT_DAP", 0); v > 0 {
		c.Dose.DailyLimitDAP = v
	}
	c.Dose.RedisAddr = getEnv("HNVUE_DOSE_REDIS_ADDR", c.Dose.RedisAddr)

	c.Journal.PostgresDSN = getEnv("HNVUE_JOURNAL_DSN", c.Journal.PostgresDSN)

	c.IPC.CommandAddr = getEnv("HNVUE_IPC_COMMAND_ADDR", c.IPC.CommandAddr)
	c.IPC.StreamAddr = getEnv("HNVUE_IPC_STREAM_ADDR", c.IPC.StreamAddr)
	c.IPC.HealthAddr = getEnv("HNVUE_IPC_HEALTH_ADDR", c.IPC.HealthAddr)
	c.IPC.ConfigAddr = getEnv("HNVUE_IPC_CONFIG_ADDR", c.IPC.ConfigAddr)
	c.IPC.SPIFFEPath = getEnv("HNVUE_IPC_SPIFFE_PATH", c.IPC.SPIFFEPath)

	c.Calibration.Directory = getEnv("HNVUE_CALIBRATION_DIR", c.Calibration.Directory)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
