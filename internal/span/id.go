package span

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDPrefix is prepended to every generated span ID.
const IDPrefix = "span_"

// TimestampLayout is the layout of generated timestamps: RFC 3339, UTC,
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// IDGenerator produces span IDs for inputs that do not carry one.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// Clock supplies the wall time used for default timestamps.
type Clock interface {
	Now() time.Time
}

// UUIDv7Generator generates span IDs of the form "span_<uuidv7>".
//
// UUIDv7 embeds a millisecond timestamp in its most significant bits followed
// by random bits, so IDs sort by creation time and collide only with
// negligible probability.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new span ID.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return IDPrefix + uuid.Must(uuid.NewV7()).String()
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedGenerator returns predetermined span IDs for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined ID.
//
// Panics if all IDs have been consumed, which points at a test that
// created more spans than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator: all %d ids exhausted", len(g.ids)))
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
