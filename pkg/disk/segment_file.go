package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/downfa11-org/tapestore/pkg/frame"
	"github.com/downfa11-org/tapestore/pkg/segment"
)

const maxNameAttempts = 5

// segmentFile is the active, append-only segment of a FileStore.
type segmentFile struct {
	name string
	file *os.File
	buf  *segment.PageBuffer
}

// createSegment creates a new segment named after storeVersion. A name taken by
// a segment from an earlier run within the same second is skipped.
func createSegment(dir string, storeVersion int64, pageSize int, capacity int64) (*segmentFile, error) {
	now := time.Now()
	for i := 0; i < maxNameAttempts; i++ {
		name := segment.Name(storeVersion, now.Add(time.Duration(i)*time.Second))
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create segment %s: %w", name, err)
		}

		adviseSequential(f)

		sf := &segmentFile{name: name, file: f}
		sf.buf = segment.NewPageBuffer(pageSize, segment.PageWriterFunc(sf.writePages), capacity)
		return sf, nil
	}
	return nil, fmt.Errorf("create segment for version %d: no free name", storeVersion)
}

func (sf *segmentFile) writePages(offset int64, p []byte) error {
	if _, err := sf.file.WriteAt(p, offset); err != nil {
		return err
	}
	return sf.file.Sync()
}

func (sf *segmentFile) fits(n int) bool {
	return sf.buf.Fits(n)
}

// append writes one encoded frame and flushes it to disk.
func (sf *segmentFile) append(enc frame.Encoded) error {
	if err := sf.buf.Write(enc.Data); err != nil {
		return err
	}
	if err := sf.buf.Write(enc.Hash[:]); err != nil {
		return err
	}
	return sf.buf.Flush()
}

func (sf *segmentFile) Close() error {
	var errs []error
	if err := sf.buf.Close(); err != nil {
		errs = append(errs, fmt.Errorf("flush segment %s: %w", sf.name, err))
	}
	if err := sf.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close segment %s: %w", sf.name, err))
	}
	return errors.Join(errs...)
}

// abort closes the segment without flushing, so frames whose write failed never
// reach the file through a later flush.
func (sf *segmentFile) abort() error {
	sf.buf.Discard()
	if err := sf.file.Close(); err != nil {
		return fmt.Errorf("close segment %s: %w", sf.name, err)
	}
	return nil
}
