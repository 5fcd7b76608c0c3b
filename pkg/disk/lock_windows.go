//go:build windows

package disk

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

type lockFile struct {
	path string
	file *os.File
}

// acquireLock relies on exclusive creation; a stale lock left by a crash must be removed by hand.
func acquireLock(path string, owner uuid.UUID) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%s is held by another store: %w", path, err)
	}
	_, _ = f.WriteString(owner.String() + "\n")
	return &lockFile{path: path, file: f}, nil
}

func (l *lockFile) release() error {
	err := l.file.Close()
	_ = os.Remove(l.path)
	return err
}
