package soap

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrPreparation is returned when a call cannot be built, e.g. a missing credential.
var ErrPreparation = errors.New("preparation failed")

// FaultError is an application-level failure reported by the backend, or a
// response that could not be understood (Malformed).
type FaultError struct {
	Operation string
	Code      string
	Reason    string
	Malformed bool
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Reason)
}

// TransportError means the call never produced a usable HTTP reply.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var sessionExpiredPattern = regexp.MustCompile(`(?i)session expired|try to relogin`)

// IsSessionExpired reports whether the failure text asks for a fresh login.
func IsSessionExpired(err error) bool {
	return err != nil && sessionExpiredPattern.MatchString(err.Error())
}

// IsFault reports whether err carries a backend fault and returns it.
func IsFault(err error) (*FaultError, bool) {
	var fe *FaultError
	if errors.As(err, &fe) && !fe.Malformed {
		return fe, true
	}
	return nil, false
}
