// Package mainctx implements a priority-leveled, readiness-based source
// scheduler.
//
// A [Context] holds [Source] values, each with a priority and a set of
// callbacks implementing the prepare/check/dispatch protocol. A single
// iteration asks every source whether it is ready (prepare), waits for
// descriptor readiness or a timeout, asks sources again given the observed
// readiness (check), then dispatches the ready sources of the highest
// priority level.
//
// The goroutine performing an iteration must own the context, see
// [Context.Acquire]. Waiting may be delegated to a [Backend], which then
// becomes responsible for watching the descriptors the sources poll, and
// for driving iterations via [Backend.Iterate].
package mainctx
