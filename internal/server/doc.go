// Package server exposes the ingestion pipeline over HTTP and WebSocket.
//
// The HTTP API lives under /api and mirrors the session lifecycle: create,
// transcribe a chunk, end, list results. The WebSocket endpoint at
// /ws/transcription/{sessionID}/ carries the same operations as JSON messages
// on a single connection bound to one session id.
package server
