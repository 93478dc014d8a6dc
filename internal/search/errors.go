package search

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when the caller's context ends or the chunk load
	// exceeds its deadline. It is distinct from both an unavailable (nil) result
	// and an empty one.
	ErrTimeout = errors.New("retrieval timed out")
	// ErrInvalidQuery is returned for malformed query options.
	ErrInvalidQuery = errors.New("invalid query")
)

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
