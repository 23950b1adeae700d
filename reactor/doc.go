// Package reactor provides a callback-driven, single-goroutine event loop:
// timers, prepare/check/idle hooks, a coalescing cross-goroutine async
// signal, and per-descriptor poll handles, all driven by [Loop.Run].
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - Linux: epoll, with an eventfd for async wake-ups
//   - macOS: kqueue, with a self-pipe for async wake-ups
//
// # Execution Model
//
// Each turn of the loop runs its phases in a fixed order:
//  1. Due timers
//  2. Idle hooks
//  3. Prepare hooks
//  4. Poll for I/O (blocking, bounded by the next timer; zero if any idle
//     hook is active or handles are closing)
//  5. Check hooks
//  6. Close callbacks of handles closed since the previous turn
//
// [RunOnce] performs a single (possibly blocking) turn, [RunNoWait] a single
// non-blocking turn, and [RunDefault] keeps turning until no active,
// referenced handles remain or [Loop.Stop] is called.
//
// # Thread Safety
//
// A Loop and its handles are confined to the goroutine that calls
// [Loop.Run]. The only exceptions are [Async.Send], which may be called from
// any goroutine, and [Loop.State].
//
// # Handle Lifetime
//
// Closing a handle is asynchronous: [Handle.Close] stops the handle
// immediately, but the close callback runs during the closing phase of the
// current or next turn. Resources associated with a handle must not be
// released before that callback.
package reactor
