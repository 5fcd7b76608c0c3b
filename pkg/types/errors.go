package types

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every store operation after Close or after a failed commit.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidState is returned for calls made in the wrong lifecycle phase.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidArgument is returned for empty keys, negative versions and non-positive counts.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIntegrity is matched by every *IntegrityError.
	ErrIntegrity = errors.New("hash mismatch")

	// ErrTimeout is returned when a remote container could not be created in time.
	ErrTimeout = errors.New("timeout")
)

// ConcurrencyError reports an expected stream version that did not match the actual one.
// The store is left untouched; callers may retry with a fresh version.
type ConcurrencyError struct {
	Expected int64
	Actual   int64
	Stream   string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("expected version %d in stream '%s' but got %d", e.Expected, e.Stream, e.Actual)
}

// IntegrityError reports a frame whose stored hash does not match its content.
type IntegrityError struct {
	Detail string
}

func (e *IntegrityError) Error() string {
	if e.Detail == "" {
		return ErrIntegrity.Error()
	}
	return ErrIntegrity.Error() + ": " + e.Detail
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// IsConcurrencyError reports whether err wraps a *ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}
