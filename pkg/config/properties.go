package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/downfa11-org/tapestore/util"
	"gopkg.in/yaml.v3"
)

const (
	BackendFile   = "file"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// Config holds the store settings loaded from a YAML/JSON file and TAPE_* env vars.
type Config struct {
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	// Storage
	DataDir     string `yaml:"data_dir" json:"data_dir"`
	Backend     string `yaml:"backend" json:"backend"`
	PageSize    int    `yaml:"page_size" json:"page_size"`
	SegmentSize int64  `yaml:"segment_size" json:"segment_size"`

	// Remote page-blob segments
	RemotePageSize           int   `yaml:"remote_page_size" json:"remote_page_size"`
	RemoteSegmentSize        int64 `yaml:"remote_segment_size" json:"remote_segment_size"`
	ContainerCreateTimeoutMS int   `yaml:"container_create_timeout_ms" json:"container_create_timeout_ms"`
	ContainerPollIntervalMS  int   `yaml:"container_poll_interval_ms" json:"container_poll_interval_ms"`

	// Metrics
	EnableExporter bool `yaml:"enable_exporter" json:"enable_exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter_port"`
}

// LoadConfig reads path (or CONFIG_PATH when empty), applies env overrides and defaults.
// A missing path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func (cfg *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml config %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("TAPE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
	overrideEnvString(&cfg.DataDir, "TAPE_DATA_DIR")
	overrideEnvString(&cfg.Backend, "TAPE_BACKEND")
	overrideEnvInt(&cfg.PageSize, "TAPE_PAGE_SIZE")
	overrideEnvInt64(&cfg.SegmentSize, "TAPE_SEGMENT_SIZE")
	overrideEnvInt(&cfg.RemotePageSize, "TAPE_REMOTE_PAGE_SIZE")
	overrideEnvInt64(&cfg.RemoteSegmentSize, "TAPE_REMOTE_SEGMENT_SIZE")
	overrideEnvInt(&cfg.ContainerCreateTimeoutMS, "TAPE_CONTAINER_CREATE_TIMEOUT_MS")
	overrideEnvInt(&cfg.ContainerPollIntervalMS, "TAPE_CONTAINER_POLL_INTERVAL_MS")
	overrideEnvBool(&cfg.EnableExporter, "TAPE_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "TAPE_EXPORTER_PORT")
}

func (cfg *Config) ContainerCreateTimeout() time.Duration {
	return time.Duration(cfg.ContainerCreateTimeoutMS) * time.Millisecond
}

func (cfg *Config) ContainerPollInterval() time.Duration {
	return time.Duration(cfg.ContainerPollIntervalMS) * time.Millisecond
}
