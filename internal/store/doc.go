// Package store defines the durable store contract for transcription sessions
// and their append-only chunk results. Backends live in sub-packages.
package store
