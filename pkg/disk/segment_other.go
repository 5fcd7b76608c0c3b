//go:build !linux

package disk

import "os"

func adviseSequential(*os.File) {}
