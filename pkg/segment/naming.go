package segment

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	Extension       = ".dat"
	BackupExtension = ".bak"

	timeLayout = "2006-01-02-150405"
)

// Name builds "{storeVersion:%08d}-{yyyy-MM-dd-HHmmss}.dat" so that names sort in creation order.
func Name(storeVersion int64, created time.Time) string {
	return fmt.Sprintf("%08d-%s%s", storeVersion, created.UTC().Format(timeLayout), Extension)
}

func IsSegment(name string) bool {
	return strings.HasSuffix(name, Extension)
}

func BackupName(name string) string {
	return name + BackupExtension
}

// SortForReplay returns the segment names in replay order, dropping anything else.
func SortForReplay(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if IsSegment(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
