package models

import "errors"

var (
	// ErrInvalidTransition is returned when a status change would move an
	// entity backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTimeout is the root of every deadline error. Task deadlines and
	// approval expiry both wrap it.
	ErrTimeout = errors.New("timeout")
)
