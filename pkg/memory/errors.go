package memory

import "errors"

var (
	// ErrDuplicateID indicates an insert collided with an existing record
	// id in the same tier. IDs are content+time derived so this should not
	// happen in practice, but callers must be able to handle it.
	ErrDuplicateID = errors.New("memory: duplicate record id")

	// ErrNotFound indicates a get or delete missed.
	ErrNotFound = errors.New("memory: record not found")

	// ErrInvalidRecord indicates a record that must not be written: empty
	// content, unknown tier or emotional tag, importance outside [0,1].
	ErrInvalidRecord = errors.New("memory: invalid record")

	// ErrStorage wraps failures of the underlying persistence engine.
	ErrStorage = errors.New("memory: storage failure")
)
