package remote

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/tapestore/pkg/cache"
	"github.com/downfa11-org/tapestore/pkg/frame"
	"github.com/downfa11-org/tapestore/pkg/metrics"
	"github.com/downfa11-org/tapestore/pkg/segment"
	"github.com/downfa11-org/tapestore/pkg/types"
	"github.com/downfa11-org/tapestore/util"
)

const (
	stateUninitialized int32 = iota
	stateReady
	stateClosed
)

const maxNameAttempts = 5

type Options struct {
	Name string
	// PageSize is the unit handed to WritePages; a multiple of 512.
	PageSize int
	// SegmentSize is the pre-allocated size of each segment blob.
	SegmentSize   int64
	CreateTimeout time.Duration
	PollInterval  time.Duration
}

func (o *Options) normalize() {
	if o.Name == "" {
		o.Name = "remote"
	}
	if o.PageSize <= 0 || o.PageSize%SectorSize != 0 {
		o.PageSize = SectorSize
	}
	if o.SegmentSize < int64(o.PageSize) || o.SegmentSize%SectorSize != 0 {
		o.SegmentSize = 512 * 1024
	}
	if o.CreateTimeout <= 0 {
		o.CreateTimeout = 60 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
}

// BlobStore is an AppendOnlyStore over pre-allocated page blobs.
// Only one instance may write to a container at a time.
type BlobStore struct {
	backend Backend
	opts    Options

	mu     sync.Mutex
	state  atomic.Int32
	writer *blobWriter

	index *cache.Index
}

var _ types.AppendOnlyStore = (*BlobStore)(nil)

func NewBlobStore(backend Backend, opts Options) *BlobStore {
	opts.normalize()
	return &BlobStore{
		backend: backend,
		opts:    opts,
		index:   cache.NewIndex(),
	}
}

func (s *BlobStore) Initialize() error {
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

func (s *BlobStore) initLocked() error {
	if err := s.createContainer(); err != nil {
		return err
	}

	var replayErr error
	if err := s.index.LoadHistory(s.history(&replayErr)); err != nil {
		return err
	}
	if replayErr != nil {
		_ = s.index.Clear(nil)
		return replayErr
	}

	version := s.index.StoreVersion()
	metrics.ReplayedFrames.WithLabelValues(s.opts.Name).Add(float64(version))
	metrics.StoreVersion.WithLabelValues(s.opts.Name).Set(float64(version))
	util.Info("store %s initialized at version %d", s.opts.Name, version)

	s.state.Store(stateReady)
	return nil
}

// createContainer retries while the container is being deleted.
func (s *BlobStore) createContainer() error {
	deadline := time.Now().Add(s.opts.CreateTimeout)
	for {
		err := s.backend.CreateContainer()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrContainerBeingDeleted) {
			return fmt.Errorf("create container for %s: %w", s.opts.Name, err)
		}
		if time.Now().Add(s.opts.PollInterval).After(deadline) {
			return fmt.Errorf("can not create container for %s within %v: %w", s.opts.Name, s.opts.CreateTimeout, types.ErrTimeout)
		}
		util.Debug("store %s: container is being deleted, retrying in %v", s.opts.Name, s.opts.PollInterval)
		time.Sleep(s.opts.PollInterval)
	}
}

func (s *BlobStore) history(errOut *error) iter.Seq[frame.Decoded] {
	return func(yield func(frame.Decoded) bool) {
		blobs, err := s.backend.List()
		if err != nil {
			*errOut = fmt.Errorf("list segments of %s: %w", s.opts.Name, err)
			return
		}
		names := make([]string, 0, len(blobs))
		for _, b := range blobs {
			names = append(names, b.Name)
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

func (s *BlobStore) replaySegment(name string) ([]frame.Decoded, error) {
	data, err := s.backend.Read(name)
	if err != nil {
		return nil, fmt.Errorf("read segment %s: %w", name, err)
	}

	res := segment.Scan(bytes.NewReader(data))
	if res.Stopped == frame.OutcomeCorrupt {
		util.Warn("store %s: segment %s unreadable after offset %d: %v", s.opts.Name, name, res.LastValid, res.Err)
	}

	if segment.NeedsTruncate(int64(len(data)), res.LastValid, s.opts.SegmentSize) {
		offset := segment.TruncateOffset(res.LastValid)
		if err := s.backend.Copy(name, segment.BackupName(name)); err != nil {
			return nil, fmt.Errorf("backup segment %s: %w", name, err)
		}
		if err := s.backend.SetLength(name, offset); err != nil {
			return nil, fmt.Errorf("truncate segment %s: %w", name, err)
		}
		metrics.Truncations.WithLabelValues(s.opts.Name).Inc()
		util.Debug("store %s: truncated %s to %d bytes", s.opts.Name, name, offset)
	}
	return res.Frames, nil
}

// Append writes data to the stream. Any failure other than a version conflict
// closes the store.
func (s *BlobStore) Append(key string, data []byte, expectedStreamVersion int64) error {
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

func (s *BlobStore) persist(key string, data []byte, streamVersion, storeVersion int64) error {
	enc := frame.Encode(streamVersion, key, data)

	if s.writer != nil && !s.writer.fits(enc.Len()) {
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

func (s *BlobStore) openWriter(version int64) error {
	w, err := createBlobSegment(s.backend, version, s.opts.PageSize, s.opts.SegmentSize)
	if err != nil {
		return err
	}
	s.writer = w
	metrics.SegmentsCreated.WithLabelValues(s.opts.Name).Inc()
	util.Debug("store %s: created segment %s", s.opts.Name, w.name)
	return nil
}

func (s *BlobStore) ReadRecords(key string, afterStreamVersion int64, maxCount int) ([]types.DataWithKey, error) {
	if err := s.checkState(); err != nil {
		return nil, err
	}
	return s.index.ReadStream(key, afterStreamVersion, maxCount)
}

func (s *BlobStore) ReadAllRecords(afterStoreVersion int64, maxCount int) ([]types.DataWithKey, error) {
	if err := s.checkState(); err != nil {
		return nil, err
	}
	return s.index.ReadAll(afterStoreVersion, maxCount)
}

func (s *BlobStore) GetCurrentVersion() int64 {
	return s.index.StoreVersion()
}

// ResetStore deletes every segment blob and its backup, then starts over at version 0.
func (s *BlobStore) ResetStore() error {
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

func (s *BlobStore) deleteSegments() error {
	blobs, err := s.backend.List()
	if err != nil {
		return err
	}
	for _, b := range blobs {
		if !segment.IsSegment(strings.TrimSuffix(b.Name, segment.BackupExtension)) {
			continue
		}
		if err := s.backend.Delete(b.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *BlobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// abortLocked closes the store after a failed commit. The active segment is
// dropped unflushed: its pending bytes still hold the rejected frame.
func (s *BlobStore) abortLocked() error {
	if s.writer != nil {
		s.writer.abort()
		s.writer = nil
	}
	return s.closeLocked()
}

func (s *BlobStore) closeLocked() error {
	if s.state.Load() == stateClosed {
		return nil
	}
	s.state.Store(stateClosed)

	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

func (s *BlobStore) checkState() error {
	switch s.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return types.ErrClosed
	default:
		return fmt.Errorf("store %s not initialized: %w", s.opts.Name, types.ErrInvalidState)
	}
}

// blobWriter is the active segment blob.
type blobWriter struct {
	name string
	buf  *segment.PageBuffer
}

func createBlobSegment(backend Backend, version int64, pageSize int, size int64) (*blobWriter, error) {
	now := time.Now()
	for i := 0; i < maxNameAttempts; i++ {
		name := segment.Name(version, now.Add(time.Duration(i)*time.Second))
		err := backend.Create(name, size)
		if errors.Is(err, ErrBlobExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create segment %s: %w", name, err)
		}
		w := &blobWriter{name: name}
		w.buf = segment.NewPageBuffer(pageSize, segment.PageWriterFunc(func(offset int64, p []byte) error {
			return backend.WritePages(name, offset, p)
		}), size)
		return w, nil
	}
	return nil, fmt.Errorf("create segment for version %d: no free name", version)
}

func (w *blobWriter) fits(n int) bool {
	return w.buf.Fits(n)
}

func (w *blobWriter) append(enc frame.Encoded) error {
	if err := w.buf.Write(enc.Data); err != nil {
		return err
	}
	if err := w.buf.Write(enc.Hash[:]); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *blobWriter) Close() error {
	return w.buf.Close()
}

func (w *blobWriter) abort() {
	w.buf.Discard()
}
