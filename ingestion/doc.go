// Package ingestion orchestrates adding documents to the database.
//
// The Pipeline type manages the ingestion workflow for sources, including:
//   - Storing sources and their chunks synchronously
//   - Embedding chunk text asynchronously through a jobs.Scheduler
//   - Writing chunk vectors and marking sources saved
//   - Deleting sources and scheduling removal of their vectors
//
// A batch of sources is embedded with a single embedding call. Each source
// reads its vectors back at prefix-sum offsets into that call's results, and
// token usage and latency are pro-rated by character-length share.
// Errors during async processing are logged and leave the source unsaved.
package ingestion
