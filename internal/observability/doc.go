// Package observability carries request-scoped logging helpers.
//
// Request ids come from chi's RequestID middleware when present and fall back
// to a generated UUID otherwise, so every gate decision can be correlated.
package observability
