// Package transport performs single HTTP exchanges for the request pipeline.
//
// [HTTP] buffers every response body so the pipeline can inspect the envelope and still
// hand the bytes back to callers. It is stateless: it never retries, never attaches
// credentials, and never interprets status codes.
package transport
