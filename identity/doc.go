// Package identity is the client for the backend's login, logout and token refresh
// endpoints.
//
// Refresh calls go straight to the transport and never through the request pipeline, so
// a failing renewal can not recurse into another renewal. Token fields are read from the
// envelope's data member when it is an object, otherwise from the top level of the body.
package identity
