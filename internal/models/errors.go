package models

import "errors"

// Storage-level errors shared by store implementations and their consumers.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("conflict")
	// ErrLimitReached indicates the license has no free activation slot.
	ErrLimitReached = errors.New("activation limit reached")
)
