// Package rate provides the renewal throttles used by the refresh coordinator.
//
// # Window semantics
//
//   - [Local]: token bucket from golang.org/x/time/rate, per process.
//   - [Redis]: fixed-window counter, INCR + conditional EXPIRE on first hit, under the
//     key <prefix>:rr so that every process sharing a credential namespace shares it.
//
// # What this package must NOT do
//
//   - Decide what happens after a refusal (the coordinator fails the cycle).
//   - Be imported outside the tokenpipe module.
package rate
