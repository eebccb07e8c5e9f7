// Package vectors exposes one namespace of a storage.VectorIndex as a
// fixed-dimension vector store.
//
// Every write and query is checked against the dimension the store was
// created with, so a misconfigured embedder fails with
// core.ErrDimensionMismatch before anything is written.
package vectors
