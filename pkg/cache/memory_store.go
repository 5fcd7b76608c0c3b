package cache

import (
	"sync/atomic"
	"time"

	"github.com/downfa11-org/tapestore/pkg/metrics"
	"github.com/downfa11-org/tapestore/pkg/types"
)

// MemoryStore is an AppendOnlyStore without a backing medium. Its contents are lost on Close.
type MemoryStore struct {
	name   string
	index  *Index
	closed atomic.Bool
}

var _ types.AppendOnlyStore = (*MemoryStore)(nil)

func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, index: NewIndex()}
}

func (s *MemoryStore) Initialize() error {
	if s.closed.Load() {
		if err := s.index.Clear(nil); err != nil {
			return err
		}
		s.closed.Store(false)
	}
	return nil
}

func (s *MemoryStore) Append(key string, data []byte, expectedStreamVersion int64) error {
	if s.closed.Load() {
		return types.ErrClosed
	}
	start := time.Now()
	err := s.index.ConcurrentAppend(key, data, NoCommit, expectedStreamVersion)
	metrics.ObserveAppend(s.name, metrics.ResultOf(err), time.Since(start), s.index.StoreVersion())
	return err
}

func (s *MemoryStore) ReadRecords(key string, afterStreamVersion int64, maxCount int) ([]types.DataWithKey, error) {
	if s.closed.Load() {
		return nil, types.ErrClosed
	}
	return s.index.ReadStream(key, afterStreamVersion, maxCount)
}

func (s *MemoryStore) ReadAllRecords(afterStoreVersion int64, maxCount int) ([]types.DataWithKey, error) {
	if s.closed.Load() {
		return nil, types.ErrClosed
	}
	return s.index.ReadAll(afterStoreVersion, maxCount)
}

func (s *MemoryStore) GetCurrentVersion() int64 {
	return s.index.StoreVersion()
}

func (s *MemoryStore) ResetStore() error {
	if s.closed.Load() {
		return types.ErrClosed
	}
	return s.index.Clear(nil)
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
