// Package bridge drives a [mainctx.Context] from a [reactor.Loop].
//
// A [Backend] is bound to a context as its [mainctx.Backend]. Once per loop
// turn it runs the context's prepare phase from a prepare hook, lets the
// loop block on the descriptors the context's sources poll (bounded by a
// timer for the context's timeout), then runs the check phase, and
// dispatch, from a check hook.
//
// All native handles are confined to the goroutine that created the
// Backend, the owner. Other goroutines may request descriptor changes, wake
// the loop, or destroy the Backend; requests are staged under a lock and
// applied by the owner at the start of its next cycle.
//
// Descriptors the native poller cannot watch, such as regular files, are
// probed with a non-blocking poll(2) before each block instead.
//
// [MainLoop] ties the pieces together for the common case of one context
// run by one loop.
package bridge
