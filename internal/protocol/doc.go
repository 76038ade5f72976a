// Package protocol defines the JSON messages exchanged over the transcription
// WebSocket. Inbound frames are parsed into a typed variant (StartSession,
// AudioChunk or EndSession); outbound frames are built by the constructors in
// this package so every reply carries its "type" discriminator.
package protocol
