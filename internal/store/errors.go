package store

import (
	"errors"
	"fmt"
)

// Error classes. Match them with errors.Is.
var (
	// ErrUnavailable means the medium could not be reached (network or file I/O).
	ErrUnavailable = errors.New("backend unavailable")
	// ErrTimeout means no response arrived within the configured bound.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrUnavailable)
	// ErrNameResolution means the remote host could not be found.
	ErrNameResolution = fmt.Errorf("%w: name resolution failed", ErrUnavailable)
	// ErrAuthenticationFailed means the remote store rejected the credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrCorrupt means stored content is not valid entity data.
	ErrCorrupt = errors.New("corrupt data")
	// ErrDuplicateUsername means another user already holds the username.
	ErrDuplicateUsername = errors.New("duplicate username")
	// ErrInvalidRecord means a record handed to Put violates the schema.
	ErrInvalidRecord = errors.New("invalid record")
)

// Error carries where a storage error happened.
type Error struct {
	Backend string
	Op      string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err with its origin. It returns nil for a nil err and does
// not wrap an error that already carries an origin.
func Wrap(backend, op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Backend: backend, Op: op, Kind: kind, Err: err}
}

// Class returns the short name of the error class, for logs and reports.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNameResolution):
		return "name_resolution"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	case errors.Is(err, ErrDuplicateUsername):
		return "duplicate_username"
	case errors.Is(err, ErrInvalidRecord):
		return "invalid_record"
	default:
		return "unknown"
	}
}
