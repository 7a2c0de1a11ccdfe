// Package storage persists users, bounded conversation history and the
// append-only broadcast job log.
//
// Drivers:
//   - "file": a single JSON snapshot rewritten atomically on every mutation
//   - "memory": the file driver without a backing file (tests, dry runs)
//   - "sqlite": SQLite database file via modernc.org/sqlite
package storage
