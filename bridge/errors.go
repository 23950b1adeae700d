package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrCreate is wrapped by errors returned from New.
	ErrCreate = errors.New("bridge: failed to create backend")

	// ErrContract is wrapped by ContractError.
	ErrContract = errors.New("bridge: contract violation")

	// ErrAlreadyStarted is returned by MainLoop.Start while running.
	ErrAlreadyStarted = errors.New("bridge: main loop already started")

	// ErrNotAcquired is returned by MainLoop.Start when the context is owned
	// by another goroutine.
	ErrNotAcquired = errors.New("bridge: context is owned by another goroutine")
)

// ContractError is the panic value for caller misuse that cannot be
// recovered from, such as removing a descriptor that was never added, or
// destroying a backend twice.
type ContractError struct {
	Op     string
	Reason string
	FD     int // -1 if not applicable
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	if e.FD >= 0 {
		return fmt.Sprintf("bridge: contract violation: %s fd %d: %s", e.Op, e.FD, e.Reason)
	}
	return fmt.Sprintf("bridge: contract violation: %s: %s", e.Op, e.Reason)
}

// Unwrap returns ErrContract.
func (e *ContractError) Unwrap() error {
	return ErrContract
}

func contractViolation(op string, fd int, reason string) {
	panic(&ContractError{Op: op, FD: fd, Reason: reason})
}
