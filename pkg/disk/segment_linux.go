//go:build linux

package disk

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential hints the kernel that segments are written and replayed front to back.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
