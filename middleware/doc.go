// Package middleware adapts a tokenpipe.Client to standard library and oauth2 interfaces.
//
//   - [NewRoundTripper] runs any *http.Client request through the pipeline.
//   - [NewTokenSource] exposes the shared credentials as an oauth2.TokenSource.
//   - [RequestID] carries an inbound X-Request-ID into outgoing pipeline requests.
//
// Renewal decisions are never made here; every adapter delegates to the client's
// coordinator.
package middleware
