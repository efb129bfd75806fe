package filestore

import "errors"

var (
	// ErrInvalidName is returned when a file name is empty, contains a path
	// separator, or exceeds the maximum length.
	ErrInvalidName = errors.New("invalid file name")

	// ErrAlreadyExists is returned when a file with the same name already
	// exists in the session.
	ErrAlreadyExists = errors.New("file already exists")

	// ErrNotFound is returned when the named file does not exist in the
	// session.
	ErrNotFound = errors.New("file not found")
)
