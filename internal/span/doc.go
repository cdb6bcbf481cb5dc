// Package span defines the Span, the immutable unit of input to the runtime.
//
// A Span is a typed, identified, timestamped fact with an opaque JSON payload.
// Spans are constructed through New or FromJSON, both of which validate and
// fill defaults:
//   - span_id defaults to "span_" + a UUIDv7 (time-ordered prefix, random suffix)
//   - timestamp defaults to the current UTC time in RFC 3339 with milliseconds
//   - data defaults to {}
//
// A supplied timestamp is kept verbatim. Any non-empty string is accepted;
// ordering comes from the log, never from timestamps.
//
// Once constructed, a Span never changes. Its fields are unexported and Data
// returns a copy of the payload.
//
// The JSON form is the durable log record: one object with the keys type,
// span_id, timestamp, data and, when present, parent_id.
package span
