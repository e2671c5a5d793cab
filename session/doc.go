// Package session handles the end of a session: what happens when credentials can no
// longer be renewed.
//
// # Failure cascade
//
// One failed renewal cycle can reject dozens of requests, and requests that arrive right
// after it start further cycles that fail immediately. [Handler] clears the store on every
// call but emits at most one notice and one redirect until [Handler.Rearm] is called. No
// redirect is issued when the user is already on an entry page (login or register).
//
// # What this package must NOT do
//
//   - Import tokenpipe or refresh (no upward imports).
//   - Renew credentials or retry requests.
package session
