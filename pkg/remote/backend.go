package remote

import (
	"errors"
	"fmt"
)

// SectorSize is the write granularity of a page blob.
const SectorSize = 512

var (
	// ErrContainerBeingDeleted is the transient conflict reported while a container is recreated.
	ErrContainerBeingDeleted = errors.New("container is being deleted")

	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobExists   = errors.New("blob already exists")
	ErrUnaligned    = errors.New("offset or length not aligned to 512 bytes")
	ErrOutOfRange   = errors.New("write beyond blob length")
)

type BlobInfo struct {
	Name   string
	Length int64
}

// Backend is a container of page blobs: fixed-size, zero-filled blobs written in 512-byte pages.
type Backend interface {
	// CreateContainer is idempotent. It may fail with ErrContainerBeingDeleted.
	CreateContainer() error
	List() ([]BlobInfo, error)
	// Create pre-allocates a zero-filled blob of size bytes.
	Create(name string, size int64) error
	WritePages(name string, offset int64, p []byte) error
	Read(name string) ([]byte, error)
	Copy(src, dst string) error
	// SetLength shrinks or grows a blob; pages past the new length are dropped.
	SetLength(name string, length int64) error
	Delete(name string) error
}

func checkAligned(offset, length int64) error {
	if offset%SectorSize != 0 || length%SectorSize != 0 {
		return fmt.Errorf("offset %d, length %d: %w", offset, length, ErrUnaligned)
	}
	return nil
}
