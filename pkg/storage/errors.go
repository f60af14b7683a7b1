package storage

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure. The set is closed: handlers map each
// kind onto the corresponding wire status, and anything outside the set
// surfaces as an opaque RPC-level error for the client to retry.
type Kind int

const (
	// KindIO is an unclassified host I/O failure.
	KindIO Kind = iota

	// KindStale means the FID could not be resolved: the object was
	// deleted or never existed.
	KindStale

	// KindNoEnt means the name was not found in the parent directory.
	KindNoEnt

	// KindExist means the name is already present or reserved in the
	// parent directory.
	KindExist

	// KindIsDir means the operation requires a file but the target is a
	// directory.
	KindIsDir

	// KindNotDir means the operation requires a directory but the target
	// is a file.
	KindNotDir

	// KindNotEmpty means RMDIR was attempted on a non-empty directory.
	KindNotEmpty

	// KindNameTooLong means the name exceeds the host limit.
	KindNameTooLong
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindStale:
		return "stale"
	case KindNoEnt:
		return "noent"
	case KindExist:
		return "exist"
	case KindIsDir:
		return "isdir"
	case KindNotDir:
		return "notdir"
	case KindNotEmpty:
		return "notempty"
	case KindNameTooLong:
		return "nametoolong"
	default:
		return "unknown"
	}
}

// Error is a classified storage failure.
type Error struct {
	Kind Kind   // failure class
	Op   string // operation, e.g. "create", "rename"
	Path string // host path involved, if any
	Err  error  // underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("storage %s: %s", e.Op, e.Kind)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a classified error.
func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf extracts the Kind from err. The second return is false when err
// is not a classified storage error.
func KindOf(err error) (Kind, bool) {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind, true
	}
	return KindIO, false
}

// IsKind reports whether err is a classified storage error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
