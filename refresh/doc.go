// Package refresh coordinates credential renewal so that any number of concurrent
// requests that discover an expired credential cause exactly one call to the identity
// endpoint.
//
// # State machine
//
// A [Coordinator] is either Idle or Refreshing. The first [Coordinator.Acquire] call in
// Idle flips the state and starts one renewal; every later call made while Refreshing
// queues as a waiter. When the renewal settles, every waiter (including the caller that
// started it) receives the same outcome and the state returns to Idle. Waiters are not
// released in any particular order.
//
// On failure the [FailureHandler] runs exactly once, before any waiter is rejected, and
// all waiters receive one shared [*ExpiredError].
//
// # Cancellation
//
// The renewal runs on a context detached from the caller that started it and bounded by
// Config.Timeout. A caller whose own context ends stops waiting and gets ctx.Err(); the
// renewal carries on for the remaining waiters.
//
// # What this package must NOT do
//
//   - Perform I/O while holding the coordinator mutex.
//   - Retry requests; retrying belongs to the request pipeline.
//   - Import tokenpipe or session.
package refresh
