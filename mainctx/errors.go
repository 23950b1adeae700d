package mainctx

import (
	"errors"
)

var (
	// ErrBackendBound is returned by SetBackend when a backend is already bound.
	ErrBackendBound = errors.New("mainctx: context already has a backend")

	// ErrSourceAttached is returned when an operation requires an unattached source.
	ErrSourceAttached = errors.New("mainctx: source is attached")

	// ErrSourceDestroyed is returned when attaching a destroyed source.
	ErrSourceDestroyed = errors.New("mainctx: source is destroyed")

	// ErrContextClosed is returned after Close.
	ErrContextClosed = errors.New("mainctx: context closed")
)
