// Package vector implements approximate nearest-neighbour search over asset
// embeddings using cosine similarity.
//
// Vectors are normalized to unit length on insert and on query, so cosine
// similarity reduces to a dot product. The first insert fixes the dimension
// of an index; any later vector of another length is rejected with
// *core.DimensionMismatchError.
//
// HNSW is a Hierarchical Navigable Small World graph. Mutations hold a write
// lock and searches a read lock, so a search never observes a node that is
// only partially linked. Removed nodes stay in the graph as tombstones to keep
// it navigable and are filtered from results; Compact rebuilds the graph
// without them.
//
// Flat is an exact linear scan with the same contract, for small libraries
// and tests.
package vector
