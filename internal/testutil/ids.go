package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates span IDs "span_0001", "span_0002", ...
//
// Unlike span.FixedGenerator it never runs out, which suits tests that
// submit an arbitrary number of spans.
//
// Thread-safety: SequenceGenerator is safe for concurrent use.
type SequenceGenerator struct {
	mu  sync.Mutex
	n   int
	pfx string
}

// NewSequenceGenerator creates a generator. An empty prefix defaults to
// "span_".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "span_"
	}
	return &SequenceGenerator{pfx: prefix}
}

// Generate returns the next ID.
//
// Implements span.IDGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%04d", g.pfx, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
