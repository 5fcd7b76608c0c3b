package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/downfa11-org/tapestore/pkg/config"
	"github.com/downfa11-org/tapestore/util"
)

// Manager opens and caches one FileStore per store name under the data directory.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*FileStore
	cfg    *config.Config
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		stores: make(map[string]*FileStore),
		cfg:    cfg,
	}
}

// GetStore returns the initialized FileStore for name, opening it on first use.
func (m *Manager) GetStore(name string) (*FileStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[name]; ok {
		return s, nil
	}

	if err := os.MkdirAll(m.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", m.cfg.DataDir, err)
	}

	s := NewFileStore(filepath.Join(m.cfg.DataDir, name), Options{
		Name:        name,
		PageSize:    m.cfg.PageSize,
		SegmentSize: m.cfg.SegmentSize,
	})
	if err := s.Initialize(); err != nil {
		return nil, err
	}

	m.stores[name] = s
	return s, nil
}

// CloseAll closes every store opened by the manager.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, s := range m.stores {
		util.Debug("Closing store %s", name)
		if err := s.Close(); err != nil {
			util.Error("failed to close store %s: %v", name, err)
		}
		delete(m.stores, name)
	}
}
