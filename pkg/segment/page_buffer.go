package segment

import (
	"bytes"
	"fmt"

	"github.com/downfa11-org/tapestore/pkg/types"
)

// PageWriter receives whole, zero-padded pages at page-aligned offsets.
type PageWriter interface {
	WritePages(offset int64, p []byte) error
}

// PageWriterFunc adapts a function to PageWriter.
type PageWriterFunc func(offset int64, p []byte) error

func (f PageWriterFunc) WritePages(offset int64, p []byte) error {
	return f(offset, p)
}

// PageBuffer adapts appends to a sink that only accepts whole pages.
// The partial tail page is rewritten on every flush until it fills up.
type PageBuffer struct {
	pageSize    int
	maxCapacity int64
	writer      PageWriter

	pending          bytes.Buffer
	bytesWritten     int64
	bytesPending     int
	fullPagesFlushed int64
	persisted        int64
	closed           bool
}

func NewPageBuffer(pageSize int, writer PageWriter, maxCapacity int64) *PageBuffer {
	if pageSize <= 0 {
		panic(fmt.Sprintf("segment: invalid page size %d", pageSize))
	}
	return &PageBuffer{
		pageSize:    pageSize,
		maxCapacity: maxCapacity,
		writer:      writer,
	}
}

// Fits reports whether n more bytes stay within the buffer capacity.
func (b *PageBuffer) Fits(n int) bool {
	return b.bytesWritten+int64(n) <= b.maxCapacity
}

func (b *PageBuffer) Write(p []byte) error {
	if b.closed {
		return types.ErrClosed
	}
	b.pending.Write(p)
	b.bytesWritten += int64(len(p))
	b.bytesPending += len(p)
	return nil
}

func (b *PageBuffer) Flush() error {
	if b.bytesPending == 0 {
		return nil
	}

	size := b.pending.Len()
	padSize := (b.pageSize - size%b.pageSize) % b.pageSize

	block := make([]byte, size+padSize)
	copy(block, b.pending.Bytes())

	if err := b.writer.WritePages(b.fullPagesFlushed*int64(b.pageSize), block); err != nil {
		return fmt.Errorf("write pages at page %d: %w", b.fullPagesFlushed, err)
	}

	fullPages := size / b.pageSize
	if fullPages > 0 {
		tail := append([]byte(nil), b.pending.Bytes()[fullPages*b.pageSize:]...)
		b.pending.Reset()
		b.pending.Write(tail)
	}

	b.bytesPending = 0
	b.fullPagesFlushed += int64(fullPages)
	b.persisted = b.fullPagesFlushed*int64(b.pageSize) + int64(b.pending.Len())
	return nil
}

// PersistedPosition is the number of bytes durably handed to the writer.
func (b *PageBuffer) PersistedPosition() int64 {
	return b.persisted
}

func (b *PageBuffer) BytesWritten() int64 {
	return b.bytesWritten
}

// Close flushes the pending tail. The buffer rejects writes afterwards.
func (b *PageBuffer) Close() error {
	if b.closed {
		return nil
	}
	err := b.Flush()
	b.closed = true
	b.pending.Reset()
	return err
}

// Discard closes the buffer without writing the pending bytes. Pages already
// handed to the writer are unaffected.
func (b *PageBuffer) Discard() {
	b.closed = true
	b.bytesPending = 0
	b.pending.Reset()
}
