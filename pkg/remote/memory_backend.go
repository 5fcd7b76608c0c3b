package remote

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend keeps page blobs in process memory.
type MemoryBackend struct {
	mu        sync.Mutex
	container bool
	deleting  int
	blobs     map[string][]byte
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

// SimulateDeletion makes the next n CreateContainer calls fail with ErrContainerBeingDeleted.
func (m *MemoryBackend) SimulateDeletion(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.container = false
	m.deleting = n
	m.blobs = make(map[string][]byte)
}

func (m *MemoryBackend) CreateContainer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleting > 0 {
		m.deleting--
		return ErrContainerBeingDeleted
	}
	m.container = true
	return nil
}

func (m *MemoryBackend) List() ([]BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]BlobInfo, 0, len(m.blobs))
	for name, data := range m.blobs {
		out = append(out, BlobInfo{Name: name, Length: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryBackend) Create(name string, size int64) error {
	if err := checkAligned(0, size); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrBlobExists)
	}
	m.blobs[name] = make([]byte, size)
	return nil
}

func (m *MemoryBackend) WritePages(name string, offset int64, p []byte) error {
	if err := checkAligned(offset, int64(len(p))); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrBlobNotFound)
	}
	if offset+int64(len(p)) > int64(len(data)) {
		return fmt.Errorf("%s at %d: %w", name, offset, ErrOutOfRange)
	}
	copy(data[offset:], p)
	return nil
}

func (m *MemoryBackend) Read(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrBlobNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Copy(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[src]
	if !ok {
		return fmt.Errorf("%s: %w", src, ErrBlobNotFound)
	}
	m.blobs[dst] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) SetLength(name string, length int64) error {
	if err := checkAligned(0, length); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrBlobNotFound)
	}
	resized := make([]byte, length)
	copy(resized, data)
	m.blobs[name] = resized
	return nil
}

func (m *MemoryBackend) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

// Blob returns a copy of a blob for inspection, or nil.
func (m *MemoryBackend) Blob(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.blobs[name]; ok {
		return append([]byte(nil), data...)
	}
	return nil
}
