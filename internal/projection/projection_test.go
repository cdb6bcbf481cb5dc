package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logline/internal/span"
)

type sliceSource struct {
	spans []span.Span
	err   error
}

func (s sliceSource) Scan(context.Context) iter.Seq2[span.Span, error] {
	return func(yield func(span.Span, error) bool) {
		for _, sp := range s.spans {
			if !yield(sp, nil) {
				return
			}
		}
		if s.err != nil {
			yield(span.Span{}, s.err)
		}
	}
}

func mkSpan(t *testing.T, typ, id string) span.Span {
	t.Helper()
	s, err := span.New(span.Input{Type: typ, ID: id, Timestamp: "2024-01-01T00:00:00.000Z"})
	require.NoError(t, err)
	return s
}

func TestRebuild_GroupsByTypeInOrder(t *testing.T) {
	p := New()
	src := sliceSource{spans: []span.Span{
		mkSpan(t, "a", "span_1"),
		mkSpan(t, "b", "span_2"),
		mkSpan(t, "a", "span_3"),
	}}

	stats, err := p.Rebuild(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, Stats{Spans: 3, Types: 2}, stats)

	a := p.Entries("a")
	require.Len(t, a, 2)
	assert.Equal(t, "span_1", a[0].Span.ID())
	assert.Equal(t, "span_3", a[1].Span.ID())
	assert.Nil(t, a[0].Result)
	assert.Nil(t, a[1].Result)

	assert.Equal(t, []string{"a", "b"}, p.Types())
	assert.Equal(t, 3, p.Len())
}

func TestRebuild_ReplacesExistingState(t *testing.T) {
	p := New()
	p.Record(mkSpan(t, "old", "span_0"), "r")

	_, err := p.Rebuild(context.Background(), sliceSource{spans: []span.Span{mkSpan(t, "new", "span_1")}})
	require.NoError(t, err)

	assert.Equal(t, []string{"new"}, p.Types())
	assert.Equal(t, 1, p.Len())
}

func TestRebuild_IsIdempotent(t *testing.T) {
	src := sliceSource{spans: []span.Span{
		mkSpan(t, "a", "span_1"),
		mkSpan(t, "b", "span_2"),
	}}
	p := New()

	_, err := p.Rebuild(context.Background(), src)
	require.NoError(t, err)
	first := p.Snapshot()

	_, err = p.Rebuild(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, first, p.Snapshot())
}

func TestRebuild_ErrorLeavesProjectionEmpty(t *testing.T) {
	p := New()
	p.Record(mkSpan(t, "a", "span_0"), "r")

	boom := errors.New("disk gone")
	_, err := p.Rebuild(context.Background(), sliceSource{
		spans: []span.Span{mkSpan(t, "a", "span_1")},
		err:   boom,
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, p.Len())
	assert.Empty(t, p.Snapshot())
}

func TestRecord_KeepsResult(t *testing.T) {
	p := New()
	p.Record(mkSpan(t, "a", "span_1"), "hello")
	p.Record(mkSpan(t, "a", "span_2"), "")

	e := p.Entries("a")
	require.Len(t, e, 2)
	require.NotNil(t, e[0].Result)
	assert.Equal(t, "hello", *e[0].Result)
	require.NotNil(t, e[1].Result, "empty output is a result, not a missing one")
	assert.Equal(t, "", *e[1].Result)
}

func TestSnapshot_IsACopy(t *testing.T) {
	p := New()
	p.Record(mkSpan(t, "a", "span_1"), "hello")

	snap := p.Snapshot()
	*snap["a"][0].Result = "mutated"
	snap["a"] = append(snap["a"], Entry{Span: mkSpan(t, "a", "span_x")})
	delete(snap, "a")

	e := p.Entries("a")
	require.Len(t, e, 1)
	assert.Equal(t, "hello", *e[0].Result)

	*e[0].Result = "mutated again"
	assert.Equal(t, "hello", *p.Entries("a")[0].Result)
}

func TestEntries_UnknownType(t *testing.T) {
	assert.Empty(t, New().Entries("nope"))
}

func TestEntry_MarshalJSON(t *testing.T) {
	s := mkSpan(t, "a", "span_1")
	r := "out"

	b, err := json.Marshal(Entry{Span: s, Result: &r})
	require.NoError(t, err)
	assert.JSONEq(t, `{"span":{"type":"a","span_id":"span_1","timestamp":"2024-01-01T00:00:00.000Z","data":{}},"result":"out"}`, string(b))

	b, err = json.Marshal(Entry{Span: s})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"result":null`)
}

func TestProjector_ConcurrentReadersAndWriter(t *testing.T) {
	p := New()
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			s, err := span.New(span.Input{Type: fmt.Sprintf("t%d", i%4), ID: fmt.Sprintf("span_%d", i)})
			if err != nil {
				t.Error(err)
				return
			}
			p.Record(s, "ok")
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				total := 0
				for _, entries := range p.Snapshot() {
					total += len(entries)
				}
				_ = p.Types()
				if total > n {
					t.Errorf("snapshot has %d entries, more than written", total)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n, p.Len())
}
