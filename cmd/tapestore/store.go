package main

import (
	"fmt"
	"path/filepath"

	"github.com/downfa11-org/tapestore/pkg/cache"
	"github.com/downfa11-org/tapestore/pkg/config"
	"github.com/downfa11-org/tapestore/pkg/disk"
	"github.com/downfa11-org/tapestore/pkg/remote"
	"github.com/downfa11-org/tapestore/pkg/types"
	"github.com/downfa11-org/tapestore/util"
)

// openStore returns an initialized store for the configured backend and a
// function releasing it.
func openStore(cfg *config.Config, name string) (types.AppendOnlyStore, func(), error) {
	switch cfg.Backend {
	case config.BackendFile:
		dm := disk.NewManager(cfg)
		s, err := dm.GetStore(name)
		if err != nil {
			return nil, nil, err
		}
		return s, dm.CloseAll, nil

	case config.BackendPebble:
		backend, err := remote.OpenPebbleBackend(filepath.Join(cfg.DataDir, name))
		if err != nil {
			return nil, nil, err
		}
		s := remote.NewBlobStore(backend, remote.Options{
			Name:          name,
			PageSize:      cfg.RemotePageSize,
			SegmentSize:   cfg.RemoteSegmentSize,
			CreateTimeout: cfg.ContainerCreateTimeout(),
			PollInterval:  cfg.ContainerPollInterval(),
		})
		if err := s.Initialize(); err != nil {
			_ = backend.Close()
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				util.Error("failed to close store %s: %v", name, err)
			}
			if err := backend.Close(); err != nil {
				util.Error("failed to close pebble for %s: %v", name, err)
			}
		}, nil

	case config.BackendMemory:
		s := cache.NewMemoryStore(name)
		if err := s.Initialize(); err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
