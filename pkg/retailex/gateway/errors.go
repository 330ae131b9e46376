package gateway

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/natserract/retailex/pkg/retailex/soap"
)

var (
	// ErrPrecondition means an action's domain precondition does not hold.
	ErrPrecondition = errors.New("precondition failed")
	// ErrUnsupportedAction is returned for action types a gateway does not handle.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrAlreadyLinked is returned when a create is requested for an entity
	// that already has a backend id.
	ErrAlreadyLinked = errors.New("entity already exists on the backend")
	// ErrDuplicateKey is returned when the backend rejects a create because
	// the key exists and the existing record could not be found.
	ErrDuplicateKey = errors.New("duplicate key could not be reconciled")
	// ErrUnexpectedResponse means the call succeeded but the body lacks what we need.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrWrongEntityType is returned when an entity is routed to the wrong gateway.
	ErrWrongEntityType = errors.New("wrong entity type")
)

// GatewayError wraps a failure with the entity it concerns.
type GatewayError struct {
	EntityType string
	UniqueID   string
	Op         string
	Err        error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.EntityType, e.UniqueID, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

var duplicateKeyPattern = regexp.MustCompile(`(?i)must be unique|already exists|duplicate`)

// isDuplicateKey reports whether err is a backend fault rejecting an existing key.
func isDuplicateKey(err error) bool {
	fault, ok := soap.IsFault(err)
	return ok && duplicateKeyPattern.MatchString(fault.Reason)
}
