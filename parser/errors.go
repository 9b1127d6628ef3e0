package parser

import "fmt"

// ParseError reports a payload that could not be decoded as its format at all.
type ParseError struct {
	ID     string
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload for %s: %v", e.Format, e.ID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError rejects a candidate whose field lies outside the accepted domain.
// It marks a filtered candidate, not a pipeline failure.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reject %s: %s %s", e.ID, e.Field, e.Reason)
}
