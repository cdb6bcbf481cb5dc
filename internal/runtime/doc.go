// Package runtime accepts spans, runs the contract bound to each span's type
// and records the span in the durable log and the in-memory projection.
//
// # Submission lifecycle
//
// Each submission moves through:
//
//	RECEIVED -> CONTRACT_RESOLVED -> EXECUTED -> PERSISTED -> PROJECTED -> DONE
//
// and may fail from any state before DONE. A failure never leaves a partial
// record: a span whose action failed is not appended, and a span that is not
// appended is not projected. The one known gap is an append that fails after
// the action succeeded; the action's effects happened but the span is not
// recorded (ErrCodePersistence). When the record was written but not synced
// (spanlog.ErrNotSynced) the outcome is still ErrCodePersistence, but the span
// is projected because the log already holds it.
//
// # Concurrency
//
// Validation, contract resolution and the action itself run without holding
// any lock, so independent submissions execute in parallel. The append and
// the projection update run under one mutex, which makes log order equal to
// projection order. Query and State are read-only and safe to call at any
// time.
//
// # Recovery
//
// New always rebuilds the projection from the log before returning. Restored
// entries carry no result: actions are never re-run during replay.
package runtime
