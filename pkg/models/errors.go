package models

import (
	"errors"
	"fmt"
)

// ErrGeoLookupMiss the dataset has no entry for a public address
var ErrGeoLookupMiss = errors.New("geolocation lookup miss")

// ParseError a row could not be normalized. The row is skipped.
type ParseError struct {
	Row    int
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("row %d: %s: %s: %v", e.Row, e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConfigurationError invalid engine configuration, fatal at startup
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// InvariantViolation caller contract breach or internal defect
type InvariantViolation struct {
	What   string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation (%s): %s", e.What, e.Detail)
}
