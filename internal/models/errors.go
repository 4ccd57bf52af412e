package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("booking conflicts with a confirmed booking")
	ErrUnauthorized     = errors.New("requester does not own the booking")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrValidation       = errors.New("validation error")
	ErrInvalidEquipment = errors.New("equipment does not exist")
)

var (
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrStaleVersion      = errors.New("stale version")
)

var (
	ErrTransientDependency = errors.New("dependency unavailable")
	ErrMalformedEvent      = errors.New("malformed event")
	ErrAlreadyRefunded     = errors.New("payment already refunded")
)

// TransientError wraps a failure of a downstream dependency that may succeed
// on retry.
type TransientError struct {
	Dependency string
	Err        error
}

func NewTransientError(dependency string, err error) *TransientError {
	return &TransientError{Dependency: dependency, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransientDependency }

// MalformedEventError marks a payload that can never be decoded. The raw
// bytes are kept so the message can be dead-lettered as received.
type MalformedEventError struct {
	Topic string
	Raw   []byte
	Err   error
}

func NewMalformedEventError(topic string, raw []byte, err error) *MalformedEventError {
	return &MalformedEventError{Topic: topic, Raw: raw, Err: err}
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event on %s: %v", e.Topic, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

func (e *MalformedEventError) Is(target error) bool { return target == ErrMalformedEvent }
