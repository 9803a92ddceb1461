package queue

import "errors"

// Sentinel errors for queue operations.
var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")
)
