package cache

import (
	"bytes"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/downfa11-org/tapestore/pkg/frame"
	"github.com/downfa11-org/tapestore/pkg/types"
)

// Committer durably persists a record before the index makes it visible.
type Committer interface {
	Commit(streamVersion, storeVersion int64) error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(streamVersion, storeVersion int64) error

func (f CommitFunc) Commit(streamVersion, storeVersion int64) error {
	return f(streamVersion, storeVersion)
}

// NoCommit is the commit strategy of a store without a backing medium.
var NoCommit = CommitFunc(func(int64, int64) error { return nil })

// Index owns the version counters of a store and serves reads from published snapshots.
// Mutations are serialized by mu; readers never take it.
type Index struct {
	mu sync.Mutex

	all     atomic.Pointer[[]types.DataWithKey]
	streams atomic.Pointer[sync.Map] // string -> []types.DataWithKey
	version atomic.Int64
}

func NewIndex() *Index {
	idx := &Index{}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	empty := []types.DataWithKey{}
	idx.all.Store(&empty)
	idx.streams.Store(&sync.Map{})
	idx.version.Store(0)
}

// StoreVersion is the number of records in the store.
func (idx *Index) StoreVersion() int64 {
	return idx.version.Load()
}

// LoadHistory rebuilds the index from replayed frames in one pass.
func (idx *Index) LoadHistory(frames iter.Seq[frame.Decoded]) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.version.Load() != 0 {
		return fmt.Errorf("must clear index before loading history: %w", types.ErrInvalidState)
	}

	var (
		all     []types.DataWithKey
		streams = make(map[string][]types.DataWithKey)
		version int64
	)
	for f := range frames {
		version++
		list := streams[f.Name]
		rec := types.DataWithKey{
			Key:           f.Name,
			Data:          f.Payload,
			StreamVersion: int64(len(list)) + 1,
			StoreVersion:  version,
		}
		streams[f.Name] = append(list, rec)
		all = append(all, rec)
	}

	m := &sync.Map{}
	for k, v := range streams {
		m.Store(k, v)
	}
	if all == nil {
		all = []types.DataWithKey{}
	}
	idx.streams.Store(m)
	idx.all.Store(&all)
	idx.version.Store(version)
	return nil
}

// ConcurrentAppend checks the expected stream version, runs the commit and only then
// publishes the record. Neither a version conflict nor a commit error changes the index.
func (idx *Index) ConcurrentAppend(key string, data []byte, c Committer, expectedStreamVersion int64) error {
	if key == "" {
		return fmt.Errorf("empty stream key: %w", types.ErrInvalidArgument)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	streams := idx.streams.Load()
	list := loadStream(streams, key)
	actual := int64(len(list))

	if expectedStreamVersion >= 0 && expectedStreamVersion != actual {
		return &types.ConcurrencyError{Expected: expectedStreamVersion, Actual: actual, Stream: key}
	}

	streamVersion := actual + 1
	storeVersion := idx.version.Load() + 1

	if err := c.Commit(streamVersion, storeVersion); err != nil {
		return err
	}

	// The caller keeps ownership of data and may reuse it once Append returns.
	rec := types.DataWithKey{Key: key, Data: bytes.Clone(data), StreamVersion: streamVersion, StoreVersion: storeVersion}

	// Older snapshots are shorter than the backing arrays, so appending in place
	// never changes what they can see.
	streams.Store(key, append(list, rec))
	all := append(*idx.all.Load(), rec)
	idx.all.Store(&all)
	idx.version.Store(storeVersion)
	return nil
}

// ReadStream returns up to maxCount records of key with a stream version above afterStreamVersion.
func (idx *Index) ReadStream(key string, afterStreamVersion int64, maxCount int) ([]types.DataWithKey, error) {
	if key == "" {
		return nil, fmt.Errorf("empty stream key: %w", types.ErrInvalidArgument)
	}
	if err := checkRange(afterStreamVersion, maxCount); err != nil {
		return nil, err
	}
	return window(loadStream(idx.streams.Load(), key), afterStreamVersion, maxCount), nil
}

// ReadAll returns up to maxCount records with a store version above afterStoreVersion.
func (idx *Index) ReadAll(afterStoreVersion int64, maxCount int) ([]types.DataWithKey, error) {
	if err := checkRange(afterStoreVersion, maxCount); err != nil {
		return nil, err
	}
	return window(*idx.all.Load(), afterStoreVersion, maxCount), nil
}

// Clear runs onCommit under the write lock and empties the index only if it succeeds.
func (idx *Index) Clear(onCommit func() error) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if onCommit != nil {
		if err := onCommit(); err != nil {
			return err
		}
	}
	idx.reset()
	return nil
}

func loadStream(m *sync.Map, key string) []types.DataWithKey {
	v, ok := m.Load(key)
	if !ok {
		return nil
	}
	return v.([]types.DataWithKey)
}

func checkRange(after int64, maxCount int) error {
	if after < 0 {
		return fmt.Errorf("version %d must be zero or greater: %w", after, types.ErrInvalidArgument)
	}
	if maxCount <= 0 {
		return fmt.Errorf("max count %d must be more than zero: %w", maxCount, types.ErrInvalidArgument)
	}
	return nil
}

// window relies on versions being 1..N without gaps, so version v sits at position v-1.
// The returned slice is a copy; the Data of its records is shared and read-only.
func window(list []types.DataWithKey, after int64, maxCount int) []types.DataWithKey {
	n := int64(len(list))
	if after >= n {
		return []types.DataWithKey{}
	}
	end := n
	if int64(maxCount) < n-after {
		end = after + int64(maxCount)
	}
	return slices.Clone(list[after:end])
}
