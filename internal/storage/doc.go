// Package storage persists the Accounts and Channels collections.
//
// Drivers:
//   - "file": one JSON document per collection, rewritten atomically
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
//   - "memory": process-local, for tests and dry runs
//
// Every Save replaces the whole collection. A malformed collection loads as
// empty and the error wraps ErrPersistenceCorrupt.
package storage
