// Package store provides a SQLite-backed span log.
//
// It is an alternate backend to the NDJSON file in internal/spanlog with the
// same contract: Append is durable when it returns, Scan yields records in
// append order and skips records that fail to decode.
//
// # Layout
//
// Each span is one row in the spans table:
//   - seq: INTEGER PRIMARY KEY AUTOINCREMENT, the append order
//   - span_id, type: copied out of the record for indexing
//   - record: the exact JSON line the file backend would write
//
// Ordering always uses seq, never timestamps. Timestamps are caller-supplied
// and may go backwards.
//
// # Database Configuration
//
//   - WAL mode: readers do not block the writer
//   - synchronous=FULL: a committed append survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - a single pooled connection: one writer per process
package store
