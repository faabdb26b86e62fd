// Package middleware holds the HTTP middleware chain of the API server:
// request ids, access logging, panic recovery, tracing, rate limiting,
// timeouts and query validation.
package middleware
