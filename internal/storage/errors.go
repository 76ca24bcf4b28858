package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDegradedSchema is returned when an operation requires the priority
// columns and the store predates them.
var ErrDegradedSchema = errors.New("storage: priority schema not available")
