// Package database provides SQLite-based storage for the run history of
// reductree.
//
// This package implements the RunDB, which stores:
//   - One record per run with the tree it executed and its digest
//   - The results of every completed scan point
//   - The failures of scan points that raised a configuration error
//
// Design decision: We use SQLite (via modernc.org/sqlite) instead of other
// databases because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. WAL mode lets "reductree history" read while a run is writing
package database
