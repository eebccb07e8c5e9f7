// Package jobs runs background work for ingestion and search.
//
// A Job carries a uuid, a Kind and a typed payload. Producers depend on the
// Scheduler interface; Queue is the production implementation backed by an
// ants worker pool, and Manual holds jobs until a test runs them.
//
// Handler errors are logged and never propagated past the scheduler. Work
// that must survive a failed job records the failure on the affected record
// instead.
package jobs
