// Package ingest implements the chunk ingestion pipeline: decode and validate
// one audio chunk, resolve its session, transcribe it, and append the result
// to the session's ordered result stream.
//
// A transcription failure still appends a result carrying an error marker so
// chunk numbers stay contiguous for consumers; the failure is then reported
// to the caller alongside that result.
package ingest
