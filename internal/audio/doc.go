// Package audio decodes raw little-endian float32 chunks, measures their
// amplitude, and renders them as 16-bit PCM WAV for remote transcription.
package audio
