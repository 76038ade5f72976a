// Package transcription defines the speech-to-text collaborator used by the
// ingestion pipeline and its two implementations: a demo engine returning
// canned per-language phrases, and an HTTP client for a remote transcription
// API with bounded concurrency and retries.
package transcription
