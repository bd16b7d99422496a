package session

import (
	"errors"
	"fmt"
)

// ErrRegistrationFailed is returned by RegistrationFlow.Submit when the server
// did not accept the create-operator request. The draft is kept.
var ErrRegistrationFailed = errors.New("registration failed")

// TransportError reports a failed outbound request: network failure, non-2xx
// status or an undecodable response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError is a local precondition failure. It never reaches the transport.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// transportErr wraps err as a *TransportError unless it already is one.
func transportErr(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
