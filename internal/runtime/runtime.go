package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/logline/internal/contract"
	"github.com/roach88/logline/internal/metrics"
	"github.com/roach88/logline/internal/projection"
	"github.com/roach88/logline/internal/span"
	"github.com/roach88/logline/internal/spanlog"
)

const tracerName = "github.com/roach88/logline/internal/runtime"

// Log is the durable span log. Implemented by *spanlog.File and *store.Store.
type Log interface {
	Append(ctx context.Context, s span.Span) error
	Scan(ctx context.Context) iter.Seq2[span.Span, error]
}

// TypeScanner is implemented by logs that can filter by span type natively.
type TypeScanner interface {
	ScanType(ctx context.Context, spanType string) iter.Seq2[span.Span, error]
}

// Resolver maps a span type to its contract. Implemented by
// *contract.Registry.
type Resolver interface {
	Resolve(spanType string) (contract.Contract, bool)
}

// Executor runs a contract's action for a span. Implemented by
// *action.Executor.
type Executor interface {
	Execute(ctx context.Context, c contract.Contract, s span.Span) (string, error)
}

// State is a submission lifecycle state.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateContractResolved State = "CONTRACT_RESOLVED"
	StateExecuted         State = "EXECUTED"
	StatePersisted        State = "PERSISTED"
	StateProjected        State = "PROJECTED"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// QueryOptions selects spans from the log.
type QueryOptions struct {
	// Type filters by span type. Empty matches every type.
	Type string

	// Limit caps the number of spans returned. Zero or negative is unlimited.
	Limit int
}

// Runtime orchestrates submissions against one log.
type Runtime struct {
	log        Log
	contracts  Resolver
	executor   Executor
	projection *projection.Projector
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	spanOpts   []span.Option

	// mu orders append+project pairs.
	mu sync.Mutex
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithMetrics sets the metrics sink. Defaults to a fresh metrics.New().
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runtime) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// WithIDGenerator sets the generator for spans submitted without a span_id.
func WithIDGenerator(g span.IDGenerator) Option {
	return func(r *Runtime) {
		r.spanOpts = append(r.spanOpts, span.WithIDGenerator(g))
	}
}

// WithClock sets the clock for spans submitted without a timestamp.
func WithClock(c span.Clock) Option {
	return func(r *Runtime) {
		r.spanOpts = append(r.spanOpts, span.WithClock(c))
	}
}

// New creates a Runtime and rebuilds its projection from log. It returns an
// error only if the log cannot be read.
func New(ctx context.Context, log Log, contracts Resolver, executor Executor, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		log:        log,
		contracts:  contracts,
		executor:   executor,
		projection: projection.New(),
		logger:     slog.Default(),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}

	if _, err := r.Replay(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Replay rebuilds the projection from the log. Submissions wait until it
// finishes. Actions are not re-run.
func (r *Runtime) Replay(ctx context.Context) (projection.Stats, error) {
	ctx, sp := r.tracer.Start(ctx, "logline.replay")
	defer sp.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	stats, err := r.projection.Rebuild(ctx, r.log)
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveProjected(0)
		return projection.Stats{}, fmt.Errorf("replay span log: %w", err)
	}

	r.metrics.ObserveReplay(stats.Spans)
	sp.SetAttributes(
		attribute.Int("logline.replay.spans", stats.Spans),
		attribute.Int("logline.replay.types", stats.Types),
	)
	r.logger.Info("span log replayed",
		"spans", stats.Spans,
		"types", stats.Types,
		"duration", time.Since(start),
	)
	return stats, nil
}

// Metrics returns the runtime's metrics.
func (r *Runtime) Metrics() *metrics.Metrics {
	return r.metrics
}

// Submit validates in, runs its contract and records it. It never panics on
// bad input; every failure is reported in the Outcome.
func (r *Runtime) Submit(ctx context.Context, in span.Input) Outcome {
	ctx, sp := r.tracer.Start(ctx, "logline.submit",
		trace.WithAttributes(attribute.String("logline.span.type", in.Type)),
	)
	defer sp.End()

	s, err := span.New(in, r.spanOpts...)
	if err != nil {
		return r.finish(ctx, sp, Outcome{Err: newValidationError(in.Type, err)})
	}
	return r.finish(ctx, sp, r.process(ctx, s))
}

// SubmitJSON is Submit for a JSON-encoded span input.
func (r *Runtime) SubmitJSON(ctx context.Context, b []byte) Outcome {
	ctx, sp := r.tracer.Start(ctx, "logline.submit")
	defer sp.End()

	s, err := span.FromJSON(b, r.spanOpts...)
	if err != nil {
		return r.finish(ctx, sp, Outcome{Err: newValidationError("", err)})
	}
	sp.SetAttributes(attribute.String("logline.span.type", s.Type()))
	return r.finish(ctx, sp, r.process(ctx, s))
}

// process runs an accepted span to completion. Caller cancellation is
// ignored from here on; the action timeout is the only abort path.
func (r *Runtime) process(ctx context.Context, s span.Span) Outcome {
	ctx = context.WithoutCancel(ctx)
	r.transition(ctx, s, StateReceived)

	c, ok := r.contracts.Resolve(s.Type())
	if !ok {
		return Outcome{Err: newContractNotFoundError(s.Type(), s.ID())}
	}
	r.transition(ctx, s, StateContractResolved)

	result, err := r.execute(ctx, c, s)
	if err != nil {
		return Outcome{Err: newExecutionError(s.Type(), s.ID(), err)}
	}
	r.transition(ctx, s, StateExecuted)

	if err := r.record(ctx, s, result); err != nil {
		return Outcome{Err: newPersistenceError(s.Type(), s.ID(), err)}
	}
	r.transition(ctx, s, StateDone)

	return Outcome{Span: s, Result: result}
}

func (r *Runtime) execute(ctx context.Context, c contract.Contract, s span.Span) (string, error) {
	ctx, sp := r.tracer.Start(ctx, "logline.action",
		trace.WithAttributes(attribute.String("logline.contract", c.Name)),
	)
	defer sp.End()

	start := time.Now()
	result, err := r.executor.Execute(ctx, c, s)
	r.metrics.ObserveAction(c.Name, time.Since(start), err)
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// record appends s and projects it as one step.
func (r *Runtime) record(ctx context.Context, s span.Span, result string) error {
	_, sp := r.tracer.Start(ctx, "logline.append")
	defer sp.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.log.Append(ctx, s)
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, spanlog.ErrNotSynced) {
			return err
		}
		// The record is readable from the log, so the projection follows it.
		r.logger.Warn("span written without fsync", "span_id", s.ID(), "error", err)
	} else {
		r.transition(ctx, s, StatePersisted)
	}

	r.projection.Record(s, result)
	r.metrics.ObserveProjected(r.projection.Len())
	r.transition(ctx, s, StateProjected)
	return err
}

func (r *Runtime) transition(ctx context.Context, s span.Span, state State) {
	r.metrics.ObserveTransition(string(state))
	r.logger.DebugContext(ctx, "span state",
		"state", state,
		"span_type", s.Type(),
		"span_id", s.ID(),
	)
}

func (r *Runtime) finish(ctx context.Context, sp trace.Span, o Outcome) Outcome {
	r.metrics.ObserveSubmission(o.Status())
	sp.SetAttributes(attribute.String("logline.outcome", o.Status()))

	if o.Err == nil {
		sp.SetAttributes(attribute.String("logline.span.id", o.Span.ID()))
		return o
	}

	r.metrics.ObserveTransition(string(StateFailed))
	sp.RecordError(o.Err)
	sp.SetStatus(codes.Error, o.Err.Error())

	level := slog.LevelWarn
	if IsValidationError(o.Err) || IsContractNotFound(o.Err) {
		level = slog.LevelInfo
	}
	attrs := []any{"outcome", o.Status(), "error", o.Err}
	var re *Error
	if errors.As(o.Err, &re) {
		attrs = append(attrs, "span_type", re.SpanType, "span_id", re.SpanID)
	}
	r.logger.Log(ctx, level, "submission failed", attrs...)
	return o
}

// Query returns spans from the log in append order. Records that fail to
// decode are skipped.
func (r *Runtime) Query(ctx context.Context, q QueryOptions) ([]span.Span, error) {
	spanType := norm.NFC.String(q.Type)

	seq := r.log.Scan(ctx)
	if ts, ok := r.log.(TypeScanner); ok && spanType != "" {
		seq = ts.ScanType(ctx, spanType)
	}

	var out []span.Span
	for s, err := range seq {
		if err != nil {
			return nil, fmt.Errorf("query span log: %w", err)
		}
		if spanType != "" && s.Type() != spanType {
			continue
		}
		out = append(out, s)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// State returns a snapshot of the projection keyed by span type.
func (r *Runtime) State() map[string][]projection.Entry {
	return r.projection.Snapshot()
}

// Types returns the span types present in the projection, sorted.
func (r *Runtime) Types() []string {
	return r.projection.Types()
}

// Entries returns the projected entries for one span type in log order. The
// type is normalized to NFC like submitted types.
func (r *Runtime) Entries(spanType string) []projection.Entry {
	return r.projection.Entries(norm.NFC.String(spanType))
}
