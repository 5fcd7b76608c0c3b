package remote

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Key layout:
//
//	c                        container marker
//	b/<name>                 blob length, 8 bytes big endian
//	p/<name>\x00<page>       one 512-byte page, page index 8 bytes big endian
//
// Pages never written are absent and read back as zeros.
var (
	containerKey = []byte("c")
	blobPrefix   = []byte("b/")
	pagePrefix   = []byte("p/")
)

// PebbleBackend emulates a page-blob container on a local pebble database.
type PebbleBackend struct {
	db *pebble.DB
}

var _ Backend = (*PebbleBackend)(nil)

func OpenPebbleBackend(dir string) (*PebbleBackend, error) {
	if dir == "" {
		return nil, errors.New("pebble: data directory is required")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &PebbleBackend{db: db}, nil
}

func (b *PebbleBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func blobKey(name string) []byte {
	return append(append([]byte(nil), blobPrefix...), name...)
}

func pageKey(name string, page int64) []byte {
	k := append(pageRangeStart(name), make([]byte, 8)...)
	binary.BigEndian.PutUint64(k[len(k)-8:], uint64(page))
	return k
}

func pageRangeStart(name string) []byte {
	k := append(append([]byte(nil), pagePrefix...), name...)
	return append(k, 0x00)
}

func pageRangeEnd(name string) []byte {
	k := append(append([]byte(nil), pagePrefix...), name...)
	return append(k, 0x01)
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func (b *PebbleBackend) CreateContainer() error {
	return b.db.Set(containerKey, nil, pebble.Sync)
}

func (b *PebbleBackend) length(name string) (int64, error) {
	val, closer, err := b.db.Get(blobKey(name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", name, ErrBlobNotFound)
		}
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("%s: corrupt length record", name)
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

func encodeLength(n int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return buf[:]
}

func (b *PebbleBackend) List() ([]BlobInfo, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: blobPrefix, UpperBound: prefixEnd(blobPrefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []BlobInfo
	for ok := iter.First(); ok; ok = iter.Next() {
		val := iter.Value()
		if len(val) != 8 {
			continue
		}
		out = append(out, BlobInfo{
			Name:   string(iter.Key()[len(blobPrefix):]),
			Length: int64(binary.BigEndian.Uint64(val)),
		})
	}
	return out, iter.Error()
}

func (b *PebbleBackend) Create(name string, size int64) error {
	if err := checkAligned(0, size); err != nil {
		return err
	}
	if _, err := b.length(name); err == nil {
		return fmt.Errorf("%s: %w", name, ErrBlobExists)
	} else if !errors.Is(err, ErrBlobNotFound) {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(pageRangeStart(name), pageRangeEnd(name), nil); err != nil {
		return err
	}
	if err := batch.Set(blobKey(name), encodeLength(size), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (b *PebbleBackend) WritePages(name string, offset int64, p []byte) error {
	if err := checkAligned(offset, int64(len(p))); err != nil {
		return err
	}
	size, err := b.length(name)
	if err != nil {
		return err
	}
	if offset+int64(len(p)) > size {
		return fmt.Errorf("%s at %d: %w", name, offset, ErrOutOfRange)
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	for i := 0; i < len(p); i += SectorSize {
		page := (offset + int64(i)) / SectorSize
		if err := batch.Set(pageKey(name, page), p[i:i+SectorSize], nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (b *PebbleBackend) Read(name string) ([]byte, error) {
	size, err := b.length(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)

	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: pageRangeStart(name), UpperBound: pageRangeEnd(name)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		page := int64(binary.BigEndian.Uint64(key[len(key)-8:]))
		off := page * SectorSize
		if off >= size {
			break
		}
		copy(out[off:], iter.Value())
	}
	return out, iter.Error()
}

func (b *PebbleBackend) Copy(src, dst string) error {
	size, err := b.length(src)
	if err != nil {
		return err
	}

	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: pageRangeStart(src), UpperBound: pageRangeEnd(src)})
	if err != nil {
		return err
	}
	defer iter.Close()

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(pageRangeStart(dst), pageRangeEnd(dst), nil); err != nil {
		return err
	}
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		page := int64(binary.BigEndian.Uint64(key[len(key)-8:]))
		if err := batch.Set(pageKey(dst, page), iter.Value(), nil); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if err := batch.Set(blobKey(dst), encodeLength(size), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (b *PebbleBackend) SetLength(name string, length int64) error {
	if err := checkAligned(0, length); err != nil {
		return err
	}
	if _, err := b.length(name); err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(pageKey(name, length/SectorSize), pageRangeEnd(name), nil); err != nil {
		return err
	}
	if err := batch.Set(blobKey(name), encodeLength(length), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (b *PebbleBackend) Delete(name string) error {
	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(pageRangeStart(name), pageRangeEnd(name), nil); err != nil {
		return err
	}
	if err := batch.Delete(blobKey(name), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}
