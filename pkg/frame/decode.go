package frame

import (
	"errors"
	"io"
)

// Outcome classifies the result of decoding one frame.
type Outcome int

const (
	OutcomeFrame Outcome = iota
	// OutcomePadding marks the zero padding that follows the last frame of a segment.
	OutcomePadding
	OutcomeEnd
	OutcomeCorrupt
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFrame:
		return "frame"
	case OutcomePadding:
		return "padding"
	case OutcomeEnd:
		return "end"
	case OutcomeCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Result is the outcome of Decode. Err is set only for OutcomeCorrupt.
type Result struct {
	Outcome Outcome
	Frame   Decoded
	Err     error
}

// Decode reads one frame and classifies what was found instead of failing.
func Decode(r io.Reader) Result {
	d, err := ReadFrame(r)
	switch {
	case err == nil && d.IsEmpty():
		return Result{Outcome: OutcomePadding}
	case err == nil:
		return Result{Outcome: OutcomeFrame, Frame: d}
	case errors.Is(err, ErrEndOfData):
		return Result{Outcome: OutcomeEnd}
	default:
		return Result{Outcome: OutcomeCorrupt, Err: err}
	}
}
