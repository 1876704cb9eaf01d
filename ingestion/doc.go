// Package ingestion turns file paths into indexed asset records.
//
// A Pipeline runs each asset through fingerprinting, content-hash
// deduplication, parsing and text indexing on a bounded worker pool, then
// hands it over a bounded queue to a second pool for enrichment (tags,
// caption, transcript, embedding) and vector indexing. Full queues block the
// stage before them, so directory walks slow down instead of buffering.
//
// Concurrent submissions of one path share a single pipeline run. Content
// already known under another path is recorded as a duplicate rather than
// indexed twice. Per-asset failures are recorded on the asset record and on
// the progress bus; they never fail a directory import.
package ingestion
