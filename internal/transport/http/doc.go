// Package http implements the REST handlers of the ingestion API. Handlers
// parse and validate the request, call the ingestion service and render the
// result; every failure is rendered as an RFC 7807 problem by the shared
// error handler.
package http
