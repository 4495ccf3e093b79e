package client

import (
	"errors"
	"fmt"
)

// ErrFetch is returned when a transaction page could not be retrieved, or the
// response does not look like a transaction page. It never wraps a parse failure.
var ErrFetch = errors.New("fetch error")

// FetchError carries the detail of a failed retrieval.
type FetchError struct {
	StatusCode int    // HTTP status, 0 when no response was received
	Reason     string // what went wrong
	Err        error  // underlying transport error, if any
}

func (e *FetchError) Error() string {
	msg := "fetch error: " + e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is reports ErrFetch so callers can use errors.Is without knowing the concrete type.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
