package explorer

import "errors"

// ErrParse is returned when a page cannot be turned into a Record.
// Use errors.Is to test for it; the concrete error is a *ParseError.
var ErrParse = errors.New("parse error")

// ParseError describes why extraction failed.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}
