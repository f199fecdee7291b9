package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the operational parameters of the field camera. It is loaded
// once at startup and never mutated afterwards.
type Config struct {
	Record              bool     `yaml:"RECORD"`
	RecordConfThreshold float64  `yaml:"RECORD_CONF_THRESHOLD"`
	CameraResolution    [2]int   `yaml:"CAMERA_RESOLUTION"`
	CameraRotation      int      `yaml:"CAMERA_ROTATION"`
	FilterClasses       []string `yaml:"FILTER_CLASSES"`
	Headless            bool     `yaml:"HEADLESS"`
	ConnectRemoteServer bool     `yaml:"CONNECT_REMOTE_SERVER"`
	LoraOn              bool     `yaml:"LORA_ON"`

	// Device wiring. These have sensible defaults and can be overridden
	// through the environment (see applyEnvOverrides).
	ServerAddr      string `yaml:"SERVER_ADDR"`
	CameraDeviceID  int    `yaml:"CAMERA_DEVICE_ID"`
	ModelPath       string `yaml:"MODEL_PATH"`
	ModelConfigPath string `yaml:"MODEL_CONFIG_PATH"`
	ClassesPath     string `yaml:"CLASSES_PATH"`
	RecordDir       string `yaml:"RECORD_DIR"`
	ArchiveDBPath   string `yaml:"ARCHIVE_DB_PATH"`
	SightingLogPath string `yaml:"SIGHTING_LOG_PATH"`
	LoraSPIPort     string `yaml:"LORA_SPI_PORT"`
	LogDirectory    string `yaml:"LOG_DIR"`
}

// RunMode carries the per-invocation state set from the command line. It is
// forwarded once to the remote collector and never consulted again.
type RunMode struct {
	Continue bool
}

// requiredKeys are the fields every configuration file must define explicitly.
// No defaults are applied for these.
var requiredKeys = []string{
	"RECORD",
	"RECORD_CONF_THRESHOLD",
	"CAMERA_RESOLUTION",
	"CAMERA_ROTATION",
	"FILTER_CLASSES",
	"HEADLESS",
	"CONNECT_REMOTE_SERVER",
	"LORA_ON",
}

// Load reads the YAML configuration file, checks that every required key is
// present, applies environment overrides for the device wiring fields and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("config is missing required key %s", key)
		}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.ServerAddr = getEnv("SCRUBCAM_SERVER_ADDR", c.ServerAddr)
	c.RecordDir = getEnv("SCRUBCAM_RECORD_DIR", c.RecordDir)
	c.ArchiveDBPath = getEnv("SCRUBCAM_ARCHIVE_DB", c.ArchiveDBPath)
	c.SightingLogPath = getEnv("SCRUBCAM_SIGHTING_LOG", c.SightingLogPath)
	c.LoraSPIPort = getEnv("SCRUBCAM_LORA_SPI_PORT", c.LoraSPIPort)
	c.LogDirectory = getEnv("SCRUBCAM_LOG_DIR", c.LogDirectory)
}

func (c *Config) applyDefaults() {
	if c.RecordDir == "" {
		c.RecordDir = "."
	}
	if c.ArchiveDBPath == "" {
		c.ArchiveDBPath = filepath.Join(c.RecordDir, "scrubcam.db")
	}
	if c.SightingLogPath == "" {
		c.SightingLogPath = "what_was_seen.log"
	}
}

func (c *Config) validate() error {
	if c.RecordConfThreshold < 0 || c.RecordConfThreshold > 1 {
		return fmt.Errorf("RECORD_CONF_THRESHOLD must be in [0,1], got %v", c.RecordConfThreshold)
	}
	if c.CameraResolution[0] <= 0 || c.CameraResolution[1] <= 0 {
		return fmt.Errorf("CAMERA_RESOLUTION must be positive, got %v", c.CameraResolution)
	}
	switch c.CameraRotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("CAMERA_ROTATION must be one of 0, 90, 180, 270, got %d", c.CameraRotation)
	}
	if c.ConnectRemoteServer && c.ServerAddr == "" {
		return fmt.Errorf("SERVER_ADDR is required when CONNECT_REMOTE_SERVER is true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
