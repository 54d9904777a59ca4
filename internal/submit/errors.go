package submit

import "fmt"

// Class buckets submission failures for user-facing messaging and metrics.
type Class string

const (
	ClassNotFound   Class = "not-found"
	ClassConflict   Class = "conflict"
	ClassValidation Class = "validation"
	ClassServer     Class = "server"
	ClassNetwork    Class = "network"
)

// Error is a classified submission failure.
type Error struct {
	Class   Class
	Message string // human-readable, shown to the operator
	Status  int    // HTTP status, 0 for transport failures
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps an HTTP status and the backend's message to an error class
// with a message the operator can act on.
func classify(status int, remoteMsg string) *Error {
	switch {
	case status == 404:
		return &Error{Class: ClassNotFound, Status: status, Message: orDefault(remoteMsg, "student not recognized")}
	case status == 409:
		return &Error{Class: ClassConflict, Status: status, Message: orDefault(remoteMsg, "attendance already marked today")}
	case status == 400 || status == 422:
		return &Error{Class: ClassValidation, Status: status, Message: orDefault(remoteMsg, "scan rejected by attendance service")}
	default:
		return &Error{Class: ClassServer, Status: status, Message: orDefault(remoteMsg, "attendance service error")}
	}
}

func netError(err error) *Error {
	return &Error{Class: ClassNetwork, Message: "no response from attendance service", Err: err}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
