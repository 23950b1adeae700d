package reactor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrReentrantRun is returned when Run is called from within a callback of the same loop.
	ErrReentrantRun = errors.New("reactor: cannot call Run() from within the loop")

	// ErrLoopClosed is returned when operations are attempted on a closed loop.
	ErrLoopClosed = errors.New("reactor: loop has been closed")

	// ErrLoopBusy is returned by Close while handles remain open.
	ErrLoopBusy = errors.New("reactor: loop has open handles")

	// ErrHandleClosing is returned when operations are attempted on a closing or closed handle.
	ErrHandleClosing = errors.New("reactor: handle is closing")

	// ErrNotPollable indicates the descriptor kind cannot be watched by the native poller.
	ErrNotPollable = errors.New("reactor: descriptor is not pollable")

	// ErrFDOutOfRange is returned for negative or oversized descriptors.
	ErrFDOutOfRange = errors.New("reactor: fd out of range (max 100000000)")

	// ErrFDAlreadyRegistered is returned when a second poll handle is created for the same fd.
	ErrFDAlreadyRegistered = errors.New("reactor: fd already registered")

	// ErrFDNotRegistered is returned when modifying an fd with no registration.
	ErrFDNotRegistered = errors.New("reactor: fd not registered")

	// ErrPollerClosed is returned by poller operations after Close.
	ErrPollerClosed = errors.New("reactor: poller closed")

	// ErrPollFailed is reported to poll callbacks when the kernel flags an
	// error condition on the descriptor.
	ErrPollFailed = errors.New("reactor: error condition on descriptor")

	errNilCallback = errors.New("reactor: nil callback")
)

// HandleError describes a failed operation on a specific handle.
type HandleError struct {
	Cause error
	Kind  HandleKind
	Op    string
}

// Error implements the error interface.
func (e *HandleError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("reactor: %s %s failed", e.Kind, e.Op)
	}
	return fmt.Sprintf("reactor: %s %s failed: %v", e.Kind, e.Op, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *HandleError) Unwrap() error {
	return e.Cause
}
