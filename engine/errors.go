package engine

// InvalidDescriptorError is returned from Engine.Parse when the descriptor is malformed or unsupported.
type InvalidDescriptorError struct {
	err error
}

// NewInvalidDescriptorError wraps err.
func NewInvalidDescriptorError(err error) *InvalidDescriptorError {
	return &InvalidDescriptorError{err: err}
}

// Error implements error interface.
func (e *InvalidDescriptorError) Error() string {
	return "invalid descriptor: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *InvalidDescriptorError) Unwrap() error {
	return e.err
}

// UnavailableError is returned from Engine.Begin when the engine cannot run the transfer,
// e.g. no listen port is available.
type UnavailableError struct {
	err error
}

// NewUnavailableError wraps err.
func NewUnavailableError(err error) *UnavailableError {
	return &UnavailableError{err: err}
}

// Error implements error interface.
func (e *UnavailableError) Error() string {
	return "engine unavailable: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *UnavailableError) Unwrap() error {
	return e.err
}
