package scene

import "errors"

var (
	// ErrTruncated indicates a snapshot that ends in the middle of a value.
	ErrTruncated = errors.New("scene data truncated")

	// ErrSnapshotTooLarge indicates a snapshot exceeding the size limit.
	ErrSnapshotTooLarge = errors.New("scene snapshot too large")

	// ErrUnknownType indicates an object type tag with no registered factory.
	ErrUnknownType = errors.New("unknown scene object type")

	// ErrDuplicateType indicates a second registration for a type tag.
	ErrDuplicateType = errors.New("scene object type already registered")

	// ErrInvalidCount indicates a negative or implausible object count.
	ErrInvalidCount = errors.New("invalid scene object count")

	// ErrDuplicateObject indicates the same object id twice in one snapshot.
	ErrDuplicateObject = errors.New("duplicate scene object id")
)
