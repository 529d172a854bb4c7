// Package storage keeps the run journal: one record per task iteration,
// appended as runs complete and read back per job, newest first.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database (WAL), pruned to Retention rows per job
//   - "file": JSON Lines file, compacted once it holds twice the retained records
package storage
