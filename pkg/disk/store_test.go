package disk_test

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/downfa11-org/tapestore/pkg/disk"
	"github.com/downfa11-org/tapestore/pkg/frame"
	"github.com/downfa11-org/tapestore/pkg/segment"
	"github.com/downfa11-org/tapestore/pkg/types"
)

func openStore(t *testing.T, dir string, opts disk.Options) *disk.FileStore {
	t.Helper()
	s := disk.NewFileStore(dir, opts)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func smallOptions() disk.Options {
	return disk.Options{Name: "disk-test", PageSize: 512, SegmentSize: 64 * 1024}
}

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return segment.SortForReplay(names)
}

func mustAppend(t *testing.T, s types.AppendOnlyStore, key, data string) {
	t.Helper()
	if err := s.Append(key, []byte(data), types.AnyVersion); err != nil {
		t.Fatalf("Append(%s): %v", key, err)
	}
}

func TestAppendAndReadStreams(t *testing.T) {
	s := openStore(t, t.TempDir(), smallOptions())
	defer s.Close()

	mustAppend(t, s, "stream1", "test message0")
	mustAppend(t, s, "stream2", "test message1")
	mustAppend(t, s, "stream1", "test message2")

	recs, err := s.ReadRecords("stream1", 0, math.MaxInt32)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 stream1 records, got %d", len(recs))
	}
	if string(recs[0].Data) != "test message0" || string(recs[1].Data) != "test message2" {
		t.Fatalf("unexpected stream1 records: %v", recs)
	}
	if recs[0].StreamVersion != 1 || recs[1].StreamVersion != 2 {
		t.Fatalf("unexpected stream versions: %v", recs)
	}

	all, err := s.ReadAllRecords(0, math.MaxInt32)
	if err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	for i, r := range all {
		if r.StoreVersion != int64(i+1) || string(r.Data) != fmt.Sprintf("test message%d", i) {
			t.Fatalf("record %d out of order: %v", i, r)
		}
	}
	if s.GetCurrentVersion() != 3 {
		t.Fatalf("expected version 3, got %d", s.GetCurrentVersion())
	}
}

func TestFirstSegmentNamedAfterVersion(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, smallOptions())
	mustAppend(t, s, "s", "x")
	_ = s.Close()

	files := segmentFiles(t, dir)
	if len(files) != 1 || !strings.HasPrefix(files[0], "00000001-") {
		t.Fatalf("unexpected segments %v", files)
	}
	info, _ := os.Stat(filepath.Join(dir, files[0]))
	if info.Size() != 512 {
		t.Fatalf("segment should be padded to one page, got %d bytes", info.Size())
	}
}

func TestReopenReplaysSegments(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, smallOptions())
	for i := 0; i < 10; i++ {
		mustAppend(t, s, fmt.Sprintf("stream-%d", i%3), fmt.Sprintf("event %d", i))
	}
	before, _ := s.ReadAllRecords(0, 100)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openStore(t, dir, smallOptions())
	defer reopened.Close()

	after, _ := reopened.ReadAllRecords(0, 100)
	if len(before) != len(after) {
		t.Fatalf("expected %d records after reopen, got %d", len(before), len(after))
	}
	for i := range before {
		b, a := before[i], after[i]
		if b.Key != a.Key || b.StreamVersion != a.StreamVersion || b.StoreVersion != a.StoreVersion || !bytes.Equal(b.Data, a.Data) {
			t.Fatalf("record %d differs: %v vs %v", i, b, a)
		}
	}

	// new appends continue the versions and go to a new segment
	if err := reopened.Append("stream-0", []byte("event 10"), 4); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if reopened.GetCurrentVersion() != 11 {
		t.Fatalf("expected version 11, got %d", reopened.GetCurrentVersion())
	}
	if files := segmentFiles(t, dir); len(files) != 2 || !strings.HasPrefix(files[1], "00000011-") {
		t.Fatalf("unexpected segments %v", files)
	}
}

func TestConcurrencyConflict(t *testing.T) {
	s := openStore(t, t.TempDir(), smallOptions())
	defer s.Close()

	mustAppend(t, s, "stream", "a")
	mustAppend(t, s, "stream", "b")

	err := s.Append("stream", []byte("c"), 1)
	var ce *types.ConcurrencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected concurrency error, got %v", err)
	}
	if ce.Expected != 1 || ce.Actual != 2 {
		t.Fatalf("unexpected concurrency error %+v", ce)
	}
	if s.GetCurrentVersion() != 2 {
		t.Fatalf("conflict must not change the version")
	}

	// the store stays open after a conflict
	if err := s.Append("stream", []byte("c"), 2); err != nil {
		t.Fatalf("Append with matching version: %v", err)
	}
	if s.GetCurrentVersion() != 3 {
		t.Fatalf("expected version 3, got %d", s.GetCurrentVersion())
	}
}

func TestResetStore(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, smallOptions())
	defer s.Close()

	for i := 0; i < 10; i++ {
		mustAppend(t, s, "stream", fmt.Sprintf("event %d", i))
	}

	if err := s.ResetStore(); err != nil {
		t.Fatalf("ResetStore: %v", err)
	}
	if s.GetCurrentVersion() != 0 {
		t.Fatalf("expected version 0, got %d", s.GetCurrentVersion())
	}
	if recs, _ := s.ReadAllRecords(0, math.MaxInt32); len(recs) != 0 {
		t.Fatalf("expected no records after reset, got %d", len(recs))
	}
	if recs, _ := s.ReadRecords("stream", 0, math.MaxInt32); len(recs) != 0 {
		t.Fatalf("expected no stream records after reset, got %d", len(recs))
	}
	if files := segmentFiles(t, dir); len(files) != 0 {
		t.Fatalf("expected segments to be deleted, got %v", files)
	}

	mustAppend(t, s, "stream", "fresh")
	recs, _ := s.ReadRecords("stream", 0, 10)
	if len(recs) != 1 || recs[0].StreamVersion != 1 || recs[0].StoreVersion != 1 {
		t.Fatalf("appends after reset must start at 1, got %v", recs)
	}

	// the lock is still held across the reset
	other := disk.NewFileStore(dir, smallOptions())
	if err := other.Initialize(); err == nil {
		_ = other.Close()
		t.Fatalf("expected second store to fail on a locked directory")
	}
}

func TestRolloverAcrossSegments(t *testing.T) {
	dir := t.TempDir()
	opts := disk.Options{Name: "rollover", PageSize: 512, SegmentSize: 1024}
	s := openStore(t, dir, opts)

	payload := strings.Repeat("p", 300)
	for i := 0; i < 7; i++ {
		mustAppend(t, s, "stream", payload)
	}
	_ = s.Close()

	files := segmentFiles(t, dir)
	if len(files) < 3 {
		t.Fatalf("expected rollover into several segments, got %v", files)
	}
	for _, f := range files {
		info, _ := os.Stat(filepath.Join(dir, f))
		if info.Size() > opts.SegmentSize {
			t.Fatalf("segment %s exceeds capacity: %d", f, info.Size())
		}
	}

	reopened := openStore(t, dir, opts)
	defer reopened.Close()
	recs, _ := reopened.ReadRecords("stream", 0, 100)
	if len(recs) != 7 {
		t.Fatalf("expected 7 records across segments, got %d", len(recs))
	}
	for i, r := range recs {
		if r.StreamVersion != int64(i+1) || string(r.Data) != payload {
			t.Fatalf("record %d damaged: %v", i, r)
		}
	}
}

func TestFrameLargerThanSegmentIsRejected(t *testing.T) {
	opts := disk.Options{Name: "oversized", PageSize: 512, SegmentSize: 1024}
	s := openStore(t, t.TempDir(), opts)
	defer s.Close()

	err := s.Append("stream", make([]byte, 2048), types.AnyVersion)
	if !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	mustAppend(t, s, "stream", "small")
}

func TestEmptySegmentsAreRemoved(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "00000001-2020-01-01-000000.dat")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openStore(t, dir, smallOptions())
	defer s.Close()

	if _, err := os.Stat(empty); !os.IsNotExist(err) {
		t.Fatalf("expected empty segment to be removed, stat err %v", err)
	}
	if s.GetCurrentVersion() != 0 {
		t.Fatalf("expected version 0, got %d", s.GetCurrentVersion())
	}
}

func TestUnreadableSegmentIsKept(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "00000001-2020-01-01-000000.dat")
	if err := os.WriteFile(junk, bytes.Repeat([]byte{0xAB}, 100), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openStore(t, dir, smallOptions())
	defer s.Close()

	if _, err := os.Stat(junk); err != nil {
		t.Fatalf("unreadable segment should be kept: %v", err)
	}
	if s.GetCurrentVersion() != 0 {
		t.Fatalf("expected version 0, got %d", s.GetCurrentVersion())
	}
	mustAppend(t, s, "stream", "after junk")
}

func TestTornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, smallOptions())
	mustAppend(t, s, "stream", "first")
	mustAppend(t, s, "stream", "second")
	_ = s.Close()

	files := segmentFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("expected one segment, got %v", files)
	}
	path := filepath.Join(dir, files[0])
	lastValid := int64(frame.Size("stream", []byte("first")) + frame.Size("stream", []byte("second")))

	// simulate a half-written frame spilling into a second page
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteAt(bytes.Repeat([]byte{0xFF}, int(1024-lastValid)), lastValid); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	_ = f.Close()

	reopened := openStore(t, dir, smallOptions())
	defer reopened.Close()

	if reopened.GetCurrentVersion() != 2 {
		t.Fatalf("expected both valid records to survive, got version %d", reopened.GetCurrentVersion())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != segment.TruncateOffset(lastValid) {
		t.Fatalf("expected truncation to %d, got %d", segment.TruncateOffset(lastValid), info.Size())
	}
	backup, err := os.Stat(segment.BackupName(path))
	if err != nil {
		t.Fatalf("expected backup: %v", err)
	}
	if backup.Size() != 1024 {
		t.Fatalf("backup should hold the original bytes, got %d", backup.Size())
	}
}

func TestFailedCommitClosesStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s := openStore(t, dir, smallOptions())
	defer s.Close()

	mustAppend(t, s, "stream", "kept")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize after close: %v", err)
	}

	// without the directory no segment can be created
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	err := s.Append("stream", []byte("lost"), types.AnyVersion)
	if err == nil || types.IsConcurrencyError(err) {
		t.Fatalf("expected an I/O error, got %v", err)
	}
	if s.GetCurrentVersion() != 1 {
		t.Fatalf("failed commit must not advance the version, got %d", s.GetCurrentVersion())
	}
	if err := s.Append("stream", []byte("again"), types.AnyVersion); !errors.Is(err, types.ErrClosed) {
		t.Fatalf("expected ErrClosed after a failed commit, got %v", err)
	}
	if _, err := s.ReadAllRecords(0, 10); !errors.Is(err, types.ErrClosed) {
		t.Fatalf("expected ErrClosed on read, got %v", err)
	}

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize after failure: %v", err)
	}
	if s.GetCurrentVersion() != 0 {
		t.Fatalf("expected empty store after reinitializing a removed directory, got %d", s.GetCurrentVersion())
	}
	mustAppend(t, s, "stream", "recovered")
}

func TestLifecycleErrors(t *testing.T) {
	dir := t.TempDir()
	s := disk.NewFileStore(dir, smallOptions())

	if _, err := s.ReadAllRecords(0, 1); !errors.Is(err, types.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before Initialize, got %v", err)
	}
	if err := s.Append("s", []byte{1}, types.AnyVersion); !errors.Is(err, types.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on append before Initialize, got %v", err)
	}

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Initialize(); !errors.Is(err, types.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double Initialize, got %v", err)
	}

	if _, err := s.ReadRecords("s", -1, 1); !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := s.Append("", []byte{1}, types.AnyVersion); !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty key, got %v", err)
	}

	_ = s.Close()
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if err := s.ResetStore(); !errors.Is(err, types.ErrClosed) {
		t.Fatalf("expected ErrClosed on reset, got %v", err)
	}
}

func TestDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	first := openStore(t, dir, smallOptions())

	second := disk.NewFileStore(dir, smallOptions())
	if err := second.Initialize(); err == nil {
		t.Fatalf("expected lock conflict")
	}

	_ = first.Close()
	if err := second.Initialize(); err != nil {
		t.Fatalf("Initialize after release: %v", err)
	}
	_ = second.Close()
}

func TestConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, disk.Options{Name: "concurrent", PageSize: 512, SegmentSize: 4096})

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				for {
					recs, err := s.ReadRecords("shared", 0, math.MaxInt32)
					if err != nil {
						t.Errorf("ReadRecords: %v", err)
						return
					}
					err = s.Append("shared", []byte(fmt.Sprintf("w%d-%d", w, i)), int64(len(recs)))
					if err == nil {
						break
					}
					if !types.IsConcurrencyError(err) {
						t.Errorf("Append: %v", err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	_ = s.Close()

	reopened := openStore(t, dir, disk.Options{Name: "concurrent", PageSize: 512, SegmentSize: 4096})
	defer reopened.Close()

	recs, _ := reopened.ReadRecords("shared", 0, math.MaxInt32)
	if len(recs) != writers*perWriter {
		t.Fatalf("expected %d records, got %d", writers*perWriter, len(recs))
	}
	seen := make([]string, 0, len(recs))
	for _, r := range recs {
		seen = append(seen, string(r.Data))
	}
	sort.Strings(seen)
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Fatalf("duplicate record %s", seen[i])
		}
	}
}
