// Package credentials holds the access/refresh token pair and the stores that persist it
// between requests.
//
// # Storage keys
//
// Every store keeps three logical entries: access_token, refresh_token and user_info.
// [Store.Clear] removes all three together. [RedisStore] prefixes each key with the
// configured namespace as a Redis Cluster hash tag, e.g. {tp}:access_token, so the
// multi-key MGET, MULTI/EXEC and DEL it issues stay within one slot.
//
// # Architecture boundaries
//
// Stores persist what they are given. They do not validate tokens, decide when a token
// is stale, or talk to the identity endpoint; that is the job of the refresh coordinator
// and the request pipeline.
//
// # What this package must NOT do
//
//   - Import tokenpipe, refresh, or session (no upward imports).
//   - Log or otherwise expose token values.
package credentials
