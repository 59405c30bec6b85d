// Package store provides persistence for daisy projects, agents, chat
// history, artifacts, and file-claim leases.
//
// # Overview
//
// The Store interface abstracts the persistence layer; SQLiteStore is the
// production implementation (modernc.org/sqlite, WAL mode) and MockStore is
// an in-memory implementation for tests.
//
// Rows are keyed by UUID strings. Agent and project deletion cascades to
// dependent rows through foreign keys, so a removed agent can never leave a
// dangling file claim behind.
//
// The file_claims table stores raw lease rows only. Expiry (TTL) semantics
// are owned by the claims package, which sweeps expired rows before every
// read-modify operation.
package store
