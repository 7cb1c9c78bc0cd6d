// Package docstore provides the SQL-backed document store the lending core
// runs against.
//
// Documents are JSON blobs keyed by (collection, id). Every write goes through
// Commit, which applies a batch of operations in a single SQL transaction:
// either every operation lands or none does.
//
// # Versions and compare-and-swap
//
// A document's version is the sequence number of the change that last wrote
// it. Sequence numbers are never reused, so a document deleted and recreated
// between a read and a write still fails a version check.
//
// RunTransaction builds on this: it records the version of every document
// read through the Txn, turns those reads into preconditions, and re-runs the
// callback from scratch when any precondition fails.
//
// # Outbox
//
// Each applied operation appends a row to the changes table inside the same
// SQL transaction, carrying the before and after snapshots. The change feed
// fans those rows out into per-subscriber deliveries:
//
//   - UNIQUE(change_seq, subscriber) makes fan-out idempotent
//   - deliveries carry attempts, next_attempt_at and a dead state
//   - writes that leave a document byte-identical are skipped and emit nothing
//
// # Backends
//
//   - SQLite (mattn/go-sqlite3): WAL, synchronous=NORMAL, busy_timeout=5000,
//     a single connection so batches serialize
//   - Postgres (jackc/pgx via database/sql): serializable transactions, with
//     serialization failures reported as ErrConflict
package docstore
