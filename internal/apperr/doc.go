// Package apperr defines the typed errors returned by the session registry and
// the ingestion pipeline, and their mapping to transport status codes.
package apperr
