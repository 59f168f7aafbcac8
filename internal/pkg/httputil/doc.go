// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter calls
// so every endpoint returns the same JSON envelope. Webhook endpoints are the
// exception on success: providers only look at the status code.
package httputil
