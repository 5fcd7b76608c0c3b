package segment

import (
	"io"

	"github.com/downfa11-org/tapestore/pkg/frame"
)

// SectorSize is the physical write granularity used when truncating torn tails.
const SectorSize = 512

// ScanResult holds the frames of one segment up to the first unreadable position.
type ScanResult struct {
	Frames    []frame.Decoded
	LastValid int64
	Stopped   frame.Outcome
	Err       error
}

type countingReader struct {
	r   io.Reader
	pos int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos += int64(n)
	return n, err
}

// Scan decodes frames until end of data, padding or corruption.
func Scan(r io.Reader) ScanResult {
	cr := &countingReader{r: r}
	var res ScanResult
	for {
		d := frame.Decode(cr)
		if d.Outcome != frame.OutcomeFrame {
			res.Stopped = d.Outcome
			res.Err = d.Err
			return res
		}
		res.Frames = append(res.Frames, d.Frame)
		res.LastValid = cr.pos
	}
}

// NeedsTruncate applies the torn-tail heuristic: a segment whose length is an
// exact multiple of pageSize and that has at least one sector of unread bytes
// may hold a half-written frame. A cleanly padded segment can match too, so
// this is best-effort; truncating it only drops padding.
func NeedsTruncate(size, lastValid, pageSize int64) bool {
	if pageSize <= 0 || size == 0 {
		return false
	}
	return size%pageSize == 0 && size-lastValid >= SectorSize
}

// TruncateOffset rounds lastValid up to the next sector boundary.
func TruncateOffset(lastValid int64) int64 {
	if rem := lastValid % SectorSize; rem > 0 {
		return lastValid + SectorSize - rem
	}
	return lastValid
}
