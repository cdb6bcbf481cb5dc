// Package projection holds the in-memory view derived from the span log:
// for every span type, the ordered list of spans with their action results.
//
// The projection is never persisted. After a restart it is rebuilt from the
// log; rebuilt entries carry no result because actions are not re-run.
package projection

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/logline/internal/span"
)

// Entry is one projected span. Result is nil for entries restored by Rebuild.
type Entry struct {
	Span   span.Span
	Result *string
}

// MarshalJSON encodes an entry as {"span":...,"result":...}.
func (e Entry) MarshalJSON() ([]byte, error) {
	return span.Marshal(struct {
		Span   span.Span `json:"span"`
		Result *string   `json:"result"`
	}{e.Span, e.Result})
}

// Source is a readable span log.
type Source interface {
	Scan(ctx context.Context) iter.Seq2[span.Span, error]
}

// Stats summarizes a Rebuild.
type Stats struct {
	Spans int
	Types int
}

// Projector maintains the projection. Safe for concurrent readers and a
// single writer.
type Projector struct {
	mu      sync.RWMutex
	byType  map[string][]Entry
	entries int
}

// New returns an empty Projector.
func New() *Projector {
	return &Projector{byType: make(map[string][]Entry)}
}

// Rebuild discards the current state and replays src in order. Every
// restored entry has a nil result.
//
// On error the projection is left empty rather than partially rebuilt.
func (p *Projector) Rebuild(ctx context.Context, src Source) (Stats, error) {
	byType := make(map[string][]Entry)
	n := 0
	for s, err := range src.Scan(ctx) {
		if err != nil {
			p.reset(make(map[string][]Entry), 0)
			return Stats{}, fmt.Errorf("rebuild projection: %w", err)
		}
		byType[s.Type()] = append(byType[s.Type()], Entry{Span: s})
		n++
	}

	p.reset(byType, n)
	return Stats{Spans: n, Types: len(byType)}, nil
}

func (p *Projector) reset(byType map[string][]Entry, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byType = byType
	p.entries = n
}

// Record appends a span and its action result.
func (p *Projector) Record(s span.Span, result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byType[s.Type()] = append(p.byType[s.Type()], Entry{Span: s, Result: &result})
	p.entries++
}

// Snapshot returns a copy of the projection. The returned map and slices are
// owned by the caller.
func (p *Projector) Snapshot() map[string][]Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string][]Entry, len(p.byType))
	for typ, entries := range p.byType {
		out[typ] = cloneEntries(entries)
	}
	return out
}

// Entries returns a copy of the entries for one type, in log order.
func (p *Projector) Entries(spanType string) []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneEntries(p.byType[spanType])
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		if e.Result != nil {
			r := *e.Result
			out[i].Result = &r
		}
	}
	return out
}

// Types returns the span types present, sorted.
func (p *Projector) Types() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.byType))
}

// Len returns the total number of entries across all types.
func (p *Projector) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries
}
