package span

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Input is the caller-supplied form of a span before defaults and validation.
// Empty ID, Timestamp and Data are filled by New.
type Input struct {
	Type      string
	ID        string
	Timestamp string
	ParentID  string
	Data      json.RawMessage
}

// Span is an immutable, validated event.
//
// The zero value is not a valid Span; construct one with New or FromJSON.
type Span struct {
	typ       string
	id        string
	timestamp string
	parentID  string
	data      json.RawMessage
}

// record is the wire form. Field order is the log's key order.
type record struct {
	Type      string          `json:"type"`
	SpanID    string          `json:"span_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ParentID  string          `json:"parent_id,omitempty"`
}

var emptyObject = json.RawMessage(`{}`)

type options struct {
	ids    IDGenerator
	clock  Clock
	strict bool
}

// Option configures default generation in New and FromJSON.
type Option func(*options)

// WithIDGenerator overrides the generator used when an input has no span_id.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithClock overrides the clock used when an input has no timestamp.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Strict disables default generation for span_id and timestamp. Used when
// decoding log records, which were written complete.
func Strict() Option {
	return func(o *options) {
		o.strict = true
	}
}

// New validates in, fills defaults and returns the resulting Span.
//
// The span type is normalized to Unicode NFC so that it joins byte-for-byte
// with contract names. Data must be valid JSON and is stored compacted.
func New(in Input, opts ...Option) (Span, error) {
	o := options{ids: UUIDv7Generator{}, clock: SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	if in.Type == "" {
		return Span{}, invalid("type", "Span type is required and must be a string")
	}

	id := in.ID
	if id == "" && !o.strict {
		id = o.ids.Generate()
	}
	if id == "" {
		return Span{}, invalid("span_id", "span_id must be a string")
	}

	ts := in.Timestamp
	if ts == "" {
		if o.strict {
			return Span{}, invalid("timestamp", "timestamp is required")
		}
		ts = o.clock.Now().UTC().Format(TimestampLayout)
	}

	data := emptyObject
	if len(in.Data) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, in.Data); err != nil {
			return Span{}, invalid("data", "data must be valid JSON: %v", err)
		}
		data = buf.Bytes()
	}

	return Span{
		typ:       norm.NFC.String(in.Type),
		id:        id,
		timestamp: ts,
		parentID:  in.ParentID,
		data:      data,
	}, nil
}

// FromJSON decodes a JSON object into a Span, filling defaults for absent
// span_id, timestamp and data exactly as New does.
//
// Fields present with a non-string JSON type are rejected with a
// *ValidationError. A JSON null is treated as absent for string fields.
func FromJSON(b []byte, opts ...Option) (Span, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Span{}, invalid("", "invalid span JSON: %v", err)
	}
	if raw == nil {
		return Span{}, invalid("", "invalid span JSON: not an object")
	}

	var in Input
	var ok bool
	if in.Type, ok = stringField(raw, "type"); !ok {
		return Span{}, invalid("type", "Span type is required and must be a string")
	}
	if in.ID, ok = stringField(raw, "span_id"); !ok {
		return Span{}, invalid("span_id", "span_id must be a string")
	}
	if in.Timestamp, ok = stringField(raw, "timestamp"); !ok {
		return Span{}, invalid("timestamp", "timestamp must be a string")
	}
	if in.ParentID, ok = stringField(raw, "parent_id"); !ok {
		return Span{}, invalid("parent_id", "parent_id must be a string")
	}
	if d, present := raw["data"]; present {
		in.Data = d
	}

	return New(in, opts...)
}

// stringField extracts a string-typed field. Absent and null yield "".
// ok is false when the field holds a non-string value.
func stringField(raw map[string]json.RawMessage, key string) (string, bool) {
	v, present := raw[key]
	if !present || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Type returns the span type, the contract join key.
func (s Span) Type() string { return s.typ }

// ID returns the span_id.
func (s Span) ID() string { return s.id }

// Timestamp returns the timestamp exactly as supplied or generated.
func (s Span) Timestamp() string { return s.timestamp }

// ParentID returns the causal parent span_id, or "" when absent.
func (s Span) ParentID() string { return s.parentID }

// Data returns a copy of the compacted JSON payload.
func (s Span) Data() json.RawMessage {
	out := make(json.RawMessage, len(s.data))
	copy(out, s.data)
	return out
}

// Equal reports whether two spans carry identical fields.
func (s Span) Equal(other Span) bool {
	return s.typ == other.typ &&
		s.id == other.id &&
		s.timestamp == other.timestamp &&
		s.parentID == other.parentID &&
		bytes.Equal(s.data, other.data)
}

// MarshalJSON implements json.Marshaler.
func (s Span) MarshalJSON() ([]byte, error) {
	data := s.data
	if data == nil {
		data = emptyObject
	}
	b, err := Marshal(record{
		Type:      s.typ,
		SpanID:    s.id,
		Timestamp: s.timestamp,
		Data:      data,
		ParentID:  s.parentID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal span %s: %w", s.id, err)
	}
	return b, nil
}

// Marshal is json.Marshal without HTML escaping. Values that embed spans
// should use it so the span bytes match the log record.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON implements json.Unmarshaler using FromJSON.
func (s *Span) UnmarshalJSON(b []byte) error {
	parsed, err := FromJSON(b)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ToJSON returns the log record encoding of s.
//
// Data is validated JSON for every constructed Span, so encoding cannot fail
// for a Span obtained from New or FromJSON.
func (s Span) ToJSON() []byte {
	b, err := s.MarshalJSON()
	if err != nil {
		panic(err)
	}
	return b
}

// String returns the JSON encoding.
func (s Span) String() string {
	return string(s.ToJSON())
}
