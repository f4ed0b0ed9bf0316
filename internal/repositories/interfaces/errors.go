package interfaces

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update finds the record no
	// longer in the expected state.
	ErrConflict = errors.New("record state changed")
)
