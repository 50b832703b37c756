package transfer

import (
	"errors"
)

var (
	// ErrIndexOutOfRange is returned when a position does not refer to a transfer in the registry.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrTransferNotFound is returned when no transfer has the given ID.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrInvalidFileIndex is returned when a file index is outside of [0, file count).
	ErrInvalidFileIndex = errors.New("invalid file index")
	// ErrInvalidRate is returned for negative rate limits.
	ErrInvalidRate = errors.New("invalid rate")
	// ErrMissingDescriptor is returned when the submitted descriptor is empty.
	ErrMissingDescriptor = errors.New("no descriptor uploaded")
	// ErrSessionNotStarted is returned by operations that need a running engine handle.
	ErrSessionNotStarted = errors.New("session not started")
	// ErrAlreadyStarted is returned from Session.Start when the session has a handle already.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSessionRemoved is returned by every operation on a stopped session.
	ErrSessionRemoved = errors.New("session removed")
)

// IsInputError reports whether err was caused by invalid input from the caller.
func IsInputError(err error) bool {
	return errors.Is(err, ErrIndexOutOfRange) ||
		errors.Is(err, ErrInvalidFileIndex) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrMissingDescriptor)
}

// ArchiveError is returned when the output of a transfer cannot be packaged into an archive.
type ArchiveError struct {
	err error
}

func newArchiveError(err error) *ArchiveError {
	return &ArchiveError{err: err}
}

// Error implements error interface.
func (e *ArchiveError) Error() string {
	return "cannot create archive: " + e.err.Error() + ", try downloading the file directly"
}

// Unwrap returns the underlying error.
func (e *ArchiveError) Unwrap() error {
	return e.err
}
