// Package publish fans appended chunk results out to downstream consumers.
// Publishing is best effort: the pipeline logs and counts failures but never
// fails an ingest because of them.
package publish
