// Package reembed repairs sources whose embeddings were never stored.
//
// Ingestion leaves a source unsaved when its embedding job fails. A
// Reembedder finds those sources (or every source, to move a database to a
// new embedding model), groups them into batches bounded by chunk count, and
// embeds each batch again with exponential backoff between attempts.
// Progress is reported to a writer as batches complete.
package reembed
