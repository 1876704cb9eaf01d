// Package lexical implements the text index: a TF-IDF inverted index over the
// lexical fields of asset records.
//
// # Scoring
//
// Each field contributes its term counts multiplied by a field boost, so a term
// in a filename or tag weighs more than the same term deep in extracted text.
// A document's score for a query is the sum, over distinct query terms it
// contains, of its weighted term frequency times ln(1 + N/df). Documents that
// match no query term never appear in results.
//
// # Segments
//
// Segmented keeps recent writes in an in-memory staging segment and older
// documents in immutable sealed segments. Updates and removals of sealed
// documents are recorded as tombstones. Merge folds staging and all sealed
// segments into one new segment without blocking writers, and swaps it in
// atomically: a search observes either the state before a merge or after it.
//
// Memory is a single-map implementation for tests and throwaway libraries.
package lexical
