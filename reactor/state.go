package reactor

import (
	"sync/atomic"
)

// LoopState represents the current state of the loop.
//
// State Machine:
//
//	StateIdle (0) → StateRunning (1)     [Run()]
//	StateRunning (1) → StateSleeping (2) [poll, via CAS]
//	StateSleeping (2) → StateRunning (1) [poll returned, via CAS]
//	StateRunning (1) → StateIdle (0)     [Run() returned]
//	StateIdle (0) → StateClosed (3)      [Close()]
//	StateClosed (3) → (terminal)
//
// Use TryTransition (CAS) for the temporary states, and Store only for the
// terminal state.
type LoopState uint64

const (
	// StateIdle indicates the loop is not inside Run.
	StateIdle LoopState = iota
	// StateRunning indicates the loop is processing a turn.
	StateRunning
	// StateSleeping indicates the loop is blocked waiting for I/O.
	StateSleeping
	// StateClosed indicates the loop has been closed.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding.
type fastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// Load returns the current state atomically.
func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, without transition validation.
func (s *fastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
