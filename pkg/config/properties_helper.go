package config

import (
	"os"
	"strings"

	"github.com/downfa11-org/tapestore/util"
)

func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "tape-data"
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch cfg.Backend {
	case BackendFile, BackendPebble, BackendMemory:
	case "":
		cfg.Backend = BackendFile
	default:
		util.Warn("Invalid backend '%s', defaulting to '%s'", cfg.Backend, BackendFile)
		cfg.Backend = BackendFile
	}

	// local segments
	if cfg.PageSize <= 0 {
		cfg.PageSize = 4096
	}
	if cfg.SegmentSize < int64(cfg.PageSize) {
		cfg.SegmentSize = 1 << 20
	}

	// remote segments
	if cfg.RemotePageSize <= 0 || cfg.RemotePageSize%512 != 0 {
		if cfg.RemotePageSize != 0 {
			util.Warn("remote_page_size %d is not a multiple of 512, defaulting to 512", cfg.RemotePageSize)
		}
		cfg.RemotePageSize = 512
	}
	if cfg.RemoteSegmentSize < int64(cfg.RemotePageSize) || cfg.RemoteSegmentSize%512 != 0 {
		cfg.RemoteSegmentSize = 512 * 1024
	}
	if cfg.ContainerCreateTimeoutMS <= 0 {
		cfg.ContainerCreateTimeoutMS = 60000
	}
	if cfg.ContainerPollIntervalMS <= 0 {
		cfg.ContainerPollIntervalMS = 500
	}

	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt64(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
