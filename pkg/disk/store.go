package disk

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/tapestore/pkg/cache"
	"github.com/downfa11-org/tapestore/pkg/frame"
	"github.com/downfa11-org/tapestore/pkg/metrics"
	"github.com/downfa11-org/tapestore/pkg/segment"
	"github.com/downfa11-org/tapestore/pkg/types"
	"github.com/downfa11-org/tapestore/util"
	"github.com/google/uuid"
	"golang.org/x/exp/mmap"
)

const lockFileName = "lock"

const (
	stateUninitialized int32 = iota
	stateReady
	stateClosed
)

type Options struct {
	// Name labels the store in logs and metrics. Defaults to the directory name.
	Name        string
	PageSize    int
	SegmentSize int64
}

func (o *Options) normalize(dir string) {
	if o.Name == "" {
		o.Name = filepath.Base(dir)
	}
	if o.PageSize <= 0 {
		o.PageSize = 4096
	}
	if o.SegmentSize < int64(o.PageSize) {
		o.SegmentSize = 1 << 20
	}
}

// FileStore is an AppendOnlyStore over a directory of segment files.
type FileStore struct {
	dir  string
	opts Options
	id   uuid.UUID

	mu     sync.Mutex // lifecycle, lock file and active segment
	state  atomic.Int32
	lock   *lockFile
	writer *segmentFile

	index *cache.Index
}

var _ types.AppendOnlyStore = (*FileStore)(nil)

func NewFileStore(dir string, opts Options) *FileStore {
	opts.normalize(dir)
	return &FileStore{
		dir:   dir,
		opts:  opts,
		id:    uuid.New(),
		index: cache.NewIndex(),
	}
}

func (s *FileStore) Dir() string { return s.dir }

// Initialize takes the directory lock and replays every segment into the index.
// On a closed store it starts over with an empty index.
func (s *FileStore) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Load() {
	case stateReady:
		return fmt.Errorf("store %s already initialized: %w", s.opts.Name, types.ErrInvalidState)
	case stateClosed:
		if err := s.index.Clear(nil); err != nil {
			return err
		}
	}
	return s.initLocked()
}

func (s *FileStore) initLocked() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create store directory %s: %w", s.dir, err)
	}

	if s.lock == nil {
		l, err := acquireLock(filepath.Join(s.dir, lockFileName), s.id)
		if err != nil {
			return err
		}
		s.lock = l
	}

	start := time.Now()
	var replayErr error
	if err := s.index.LoadHistory(s.history(&replayErr)); err != nil {
		_ = s.releaseLockLocked()
		return err
	}
	if replayErr != nil {
		_ = s.index.Clear(nil)
		_ = s.releaseLockLocked()
		return replayErr
	}

	version := s.index.StoreVersion()
	metrics.ReplayedFrames.WithLabelValues(s.opts.Name).Add(float64(version))
	metrics.StoreVersion.WithLabelValues(s.opts.Name).Set(float64(version))
	util.Info("store %s (%s) initialized at version %d in %v", s.opts.Name, s.id, version, time.Since(start))

	s.state.Store(stateReady)
	return nil
}

// history yields the frames of every segment in replay order. Empty segments are
// deleted and torn tails are truncated on the way.
func (s *FileStore) history(errOut *error) iter.Seq[frame.Decoded] {
	return func(yield func(frame.Decoded) bool) {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			*errOut = fmt.Errorf("list segments in %s: %w", s.dir, err)
			return
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}

		for _, name := range segment.SortForReplay(names) {
			frames, err := s.replaySegment(name)
			if err != nil {
				*errOut = err
				return
			}
			for _, f := range frames {
				if !yield(f) {
					return
				}
			}
		}
	}
}

func (s *FileStore) replaySegment(name string) ([]frame.Decoded, error) {
	path := filepath.Join(s.dir, name)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat segment %s: %w", name, err)
	}
	if info.Size() == 0 {
		util.Debug("store %s: removing empty segment %s", s.opts.Name, name)
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove empty segment %s: %w", name, err)
		}
		return nil, nil
	}

	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap segment %s: %w", name, err)
	}
	res := segment.Scan(io.NewSectionReader(r, 0, int64(r.Len())))
	if err := r.Close(); err != nil {
		util.Error("store %s: failed to unmap %s: %v", s.opts.Name, name, err)
	}

	if res.Stopped == frame.OutcomeCorrupt {
		util.Warn("store %s: segment %s unreadable after offset %d: %v", s.opts.Name, name, res.LastValid, res.Err)
	}

	if segment.NeedsTruncate(info.Size(), res.LastValid, int64(s.opts.PageSize)) {
		if err := s.truncateSegment(path, res.LastValid); err != nil {
			return nil, err
		}
	}
	return res.Frames, nil
}

// truncateSegment keeps a backup of the segment, then cuts it at the last valid
// frame rounded up to a sector.
func (s *FileStore) truncateSegment(path string, lastValid int64) error {
	backup := segment.BackupName(path)
	if err := copyFile(path, backup); err != nil {
		return fmt.Errorf("backup segment %s: %w", filepath.Base(path), err)
	}
	offset := segment.TruncateOffset(lastValid)
	if err := os.Truncate(path, offset); err != nil {
		return fmt.Errorf("truncate segment %s: %w", filepath.Base(path), err)
	}
	metrics.Truncations.WithLabelValues(s.opts.Name).Inc()
	util.Warn("store %s: truncated %s to %d bytes, backup at %s", s.opts.Name, filepath.Base(path), offset, filepath.Base(backup))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Append writes data to the stream. Any failure other than a version conflict
// closes the store; it has to be initialized again before further use.
func (s *FileStore) Append(key string, data []byte, expectedStreamVersion int64) error {
	if key == "" {
		return fmt.Errorf("empty stream key: %w", types.ErrInvalidArgument)
	}
	if size := frame.Size(key, data); int64(size) > s.opts.SegmentSize {
		return fmt.Errorf("frame of %d bytes exceeds segment size %d: %w", size, s.opts.SegmentSize, types.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(); err != nil {
		return err
	}

	start := time.Now()
	err := s.index.ConcurrentAppend(key, data, cache.CommitFunc(func(streamVersion, storeVersion int64) error {
		return s.persist(key, data, streamVersion, storeVersion)
	}), expectedStreamVersion)
	metrics.ObserveAppend(s.opts.Name, metrics.ResultOf(err), time.Since(start), s.index.StoreVersion())

	if err != nil && !types.IsConcurrencyError(err) {
		util.Error("store %s: append to %s failed, closing store: %v", s.opts.Name, key, err)
		if cerr := s.abortLocked(); cerr != nil {
			util.Error("store %s: close after failed append: %v", s.opts.Name, cerr)
		}
	}
	return err
}

// persist runs under the index lock, so it owns the active segment. A fresh segment
// is named after the version it starts with; a rollover segment after the current one.
func (s *FileStore) persist(key string, data []byte, streamVersion, storeVersion int64) error {
	enc := frame.Encode(streamVersion, key, data)

	if s.writer != nil && !s.writer.fits(enc.Len()) {
		util.Debug("store %s: segment %s full, rolling over", s.opts.Name, s.writer.name)
		err := s.writer.Close()
		s.writer = nil
		if err != nil {
			return err
		}
		if err := s.openWriter(s.index.StoreVersion()); err != nil {
			return err
		}
	}
	if s.writer == nil {
		if err := s.openWriter(storeVersion); err != nil {
			return err
		}
	}

	if err := s.writer.append(enc); err != nil {
		return fmt.Errorf("persist %s@%d in %s: %w", key, streamVersion, s.writer.name, err)
	}
	metrics.BytesPersisted.WithLabelValues(s.opts.Name).Add(float64(enc.Len()))
	return nil
}

func (s *FileStore) openWriter(version int64) error {
	w, err := createSegment(s.dir, version, s.opts.PageSize, s.opts.SegmentSize)
	if err != nil {
		return err
	}
	s.writer = w
	metrics.SegmentsCreated.WithLabelValues(s.opts.Name).Inc()
	util.Debug("store %s: created segment %s", s.opts.Name, w.name)
	return nil
}

func (s *FileStore) ReadRecords(key string, afterStreamVersion int64, maxCount int) ([]types.DataWithKey, error) {
	if err := s.checkState(); err != nil {
		return nil, err
	}
	return s.index.ReadStream(key, afterStreamVersion, maxCount)
}

func (s *FileStore) ReadAllRecords(afterStoreVersion int64, maxCount int) ([]types.DataWithKey, error) {
	if err := s.checkState(); err != nil {
		return nil, err
	}
	return s.index.ReadAll(afterStoreVersion, maxCount)
}

func (s *FileStore) GetCurrentVersion() int64 {
	return s.index.StoreVersion()
}

// ResetStore irreversibly deletes every segment and starts over at version 0.
// The directory lock stays held throughout.
func (s *FileStore) ResetStore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(); err != nil {
		return err
	}

	if s.writer != nil {
		err := s.writer.Close()
		s.writer = nil
		if err != nil {
			util.Warn("store %s: close segment before reset: %v", s.opts.Name, err)
		}
	}

	if err := s.index.Clear(s.deleteSegments); err != nil {
		return fmt.Errorf("reset store %s: %w", s.opts.Name, err)
	}
	util.Info("store %s reset", s.opts.Name)
	if err := s.initLocked(); err != nil {
		s.state.Store(stateClosed)
		return err
	}
	return nil
}

func (s *FileStore) deleteSegments() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == lockFileName {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the active segment and releases the directory lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// abortLocked closes the store after a failed commit. The active segment is
// dropped unflushed: its pending bytes still hold the rejected frame.
func (s *FileStore) abortLocked() error {
	var errs []error
	if s.writer != nil {
		if err := s.writer.abort(); err != nil {
			errs = append(errs, err)
		}
		s.writer = nil
	}
	if err := s.closeLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *FileStore) closeLocked() error {
	if s.state.Load() == stateClosed {
		return nil
	}
	s.state.Store(stateClosed)

	var errs []error
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			errs = append(errs, err)
		}
		s.writer = nil
	}
	if err := s.releaseLockLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *FileStore) releaseLockLocked() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.release()
	s.lock = nil
	if err != nil {
		return fmt.Errorf("release lock of %s: %w", s.dir, err)
	}
	return nil
}

func (s *FileStore) checkState() error {
	switch s.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return types.ErrClosed
	default:
		return fmt.Errorf("store %s not initialized: %w", s.opts.Name, types.ErrInvalidState)
	}
}
