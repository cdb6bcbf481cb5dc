package runtime

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/roach88/logline/internal/projection"
	"github.com/roach88/logline/internal/span"
	"github.com/roach88/logline/internal/spanlog"
	lltest "github.com/roach88/logline/internal/testutil"
)

// stripResults drops action results, which replay never restores.
func stripResults(state map[string][]projection.Entry) map[string][]string {
	out := make(map[string][]string, len(state))
	for typ, entries := range state {
		for _, e := range entries {
			out[typ] = append(out[typ], string(e.Span.ToJSON()))
		}
	}
	return out
}

func sameState(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for typ, xs := range a {
		ys := b[typ]
		if len(xs) != len(ys) {
			return false
		}
		for i := range xs {
			if xs[i] != ys[i] {
				return false
			}
		}
	}
	return true
}

// TestReplayIdempotenceProperty verifies that for any sequence of
// submissions, replaying the log once or twice yields the projection the
// live runtime built, minus results.
func TestReplayIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("replay(log) == replay(replay(log)) == live projection", prop.ForAll(
		func(types []string) bool {
			ctx := context.Background()
			log, err := spanlog.Open(filepath.Join(t.TempDir(), "spans.log"), spanlog.WithLogger(quietLogger()))
			if err != nil {
				return false
			}
			defer log.Close()

			reg := registry(t, "a", "b", "c")
			live, err := New(ctx, log, reg, &fakeExecutor{},
				WithLogger(quietLogger()),
				WithIDGenerator(lltest.NewSequenceGenerator("")),
			)
			if err != nil {
				return false
			}
			for _, typ := range types {
				// "d" has no contract; misses must not disturb the log.
				out := live.Submit(ctx, span.Input{Type: typ, Data: []byte(`{"t":"` + typ + `"}`)})
				if (typ == "d") != IsContractNotFound(out.Err) {
					return false
				}
			}
			want := stripResults(live.State())

			replayed, err := New(ctx, log, reg, &fakeExecutor{}, WithLogger(quietLogger()))
			if err != nil {
				return false
			}
			once := stripResults(replayed.State())

			if _, err := replayed.Replay(ctx); err != nil {
				return false
			}
			twice := stripResults(replayed.State())

			return sameState(want, once) && sameState(once, twice)
		},
		gen.SliceOf(gen.OneConstOf("a", "b", "c", "d"), reflect.TypeOf("")),
	))

	properties.TestingRun(t)
}
