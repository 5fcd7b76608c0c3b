//go:build !windows

package disk

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// lockFile keeps other processes and store instances from writing to the same directory.
type lockFile struct {
	path string
	file *os.File
}

func acquireLock(path string, owner uuid.UUID) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s is held by another store: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(owner.String()+"\n"), 0)
	}
	return &lockFile{path: path, file: f}, nil
}

// release unlocks and closes the file. The file itself stays: removing it would
// let a process still holding the old inode lock it alongside a new one.
func (l *lockFile) release() error {
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
