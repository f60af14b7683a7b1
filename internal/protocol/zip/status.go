package zip

import "fmt"

// Status is the wire status code of an accepted RPC reply. The values
// follow the classic NFS errno assignments.
type Status uint32

const (
	StatusOK          Status = 0
	StatusNoEnt       Status = 2
	StatusIO          Status = 5
	StatusExist       Status = 17
	StatusNotDir      Status = 20
	StatusIsDir       Status = 21
	StatusNameTooLong Status = 63
	StatusNotEmpty    Status = 66
	StatusStale       Status = 70
)

// String returns the NFS-style error name of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "NFS_OK"
	case StatusNoEnt:
		return "NFSERR_NOENT"
	case StatusIO:
		return "NFSERR_IO"
	case StatusExist:
		return "NFSERR_EXIST"
	case StatusNotDir:
		return "NFSERR_NOTDIR"
	case StatusIsDir:
		return "NFSERR_ISDIR"
	case StatusNameTooLong:
		return "NFSERR_NAMETOOLONG"
	case StatusNotEmpty:
		return "NFSERR_NOTEMPTY"
	case StatusStale:
		return "NFSERR_STALE"
	default:
		return fmt.Sprintf("NFSERR_%d", uint32(s))
	}
}

// Error is the user error record carried in a non-OK reply body:
// the status plus a human-readable message.
type Error struct {
	Status  Status
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// NewError returns an Error with the status's canonical name as message.
func NewError(status Status) *Error {
	return &Error{Status: status, Message: status.String()}
}

// IsStatus reports whether err is a *zip.Error with the given status.
func IsStatus(err error, status Status) bool {
	zerr, ok := err.(*Error)
	return ok && zerr.Status == status
}
