package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/logline/internal/action"
	"github.com/roach88/logline/internal/config"
	"github.com/roach88/logline/internal/contract"
	"github.com/roach88/logline/internal/metrics"
	"github.com/roach88/logline/internal/runtime"
	"github.com/roach88/logline/internal/spanlog"
	"github.com/roach88/logline/internal/store"
)

const serviceName = "logline"

// access describes what a command needs from a session.
type access int

const (
	// readLog opens the log without taking the writer lock and loads no
	// contracts.
	readLog access = iota
	// writeLog locks the log and loads contracts.
	writeLog
)

// session is the per-command wiring of log, contracts, executor and runtime.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	log     runtime.Log
	metrics *metrics.Metrics
	runtime *runtime.Runtime

	// skipped counts log records skipped by any scan in this session.
	skipped atomic.Int64

	closeLog func() error
	shutdown func(context.Context) error
}

func openSession(ctx context.Context, opts *RootOptions, mode access) (*session, error) {
	cfg, logger := opts.Config, opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New()
	s := &session{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		closeLog: func() error { return nil },
		shutdown: func(context.Context) error { return nil },
	}

	if err := s.openLog(mode); err != nil {
		return nil, err
	}

	var contracts *contract.Registry
	if mode == writeLog {
		reg, err := contract.Load(cfg.Contracts.Dir)
		if err != nil {
			s.closeLog()
			return nil, WrapExitError(ExitCommandError, "failed to load contracts", err)
		}
		logger.Debug("contracts loaded", "dir", cfg.Contracts.Dir, "count", reg.Len())
		contracts = reg
	}

	tp, shutdown, err := newTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		s.closeLog()
		return nil, WrapExitError(ExitCommandError, "failed to start tracing", err)
	}
	s.shutdown = shutdown

	executor := action.NewExecutor(
		action.WithDefaultTimeout(cfg.Exec.Timeout),
		action.WithLogger(logger),
	)

	rtOpts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithMetrics(m),
		runtime.WithTracerProvider(tp),
	}
	if opts.IDs != nil {
		rtOpts = append(rtOpts, runtime.WithIDGenerator(opts.IDs))
	}
	if opts.Clock != nil {
		rtOpts = append(rtOpts, runtime.WithClock(opts.Clock))
	}

	rt, err := runtime.New(ctx, s.log, contracts, executor, rtOpts...)
	if err != nil {
		s.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to replay span log", err)
	}
	s.runtime = rt
	return s, nil
}

func (s *session) openLog(mode access) error {
	countSkip := s.metrics.SkipHook()
	logOpts := []spanlog.Option{
		spanlog.WithLogger(s.logger),
		spanlog.WithSkipHook(func(sk spanlog.Skipped) {
			s.skipped.Add(1)
			countSkip(sk)
		}),
	}
	path := s.cfg.Log.Path

	switch {
	case s.cfg.Log.Backend == config.BackendSQLite:
		st, err := store.Open(path, logOpts...)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open span log", err)
		}
		s.log, s.closeLog = st, st.Close
	case mode == readLog:
		f := spanlog.OpenReadOnly(path, logOpts...)
		s.log, s.closeLog = f, f.Close
	default:
		f, err := spanlog.Open(path, logOpts...)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open span log", err)
		}
		s.log, s.closeLog = f, f.Close
	}

	s.logger.Debug("span log opened", "path", path, "backend", s.cfg.Log.Backend)
	return nil
}

// Close flushes traces, writes the metrics textfile if configured and
// releases the log.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if err := s.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	if path := s.cfg.Metrics.Textfile; path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.closeLog(); err != nil {
		errs = append(errs, fmt.Errorf("close span log: %w", err))
	}
	return errors.Join(errs...)
}

// closeSession closes s and logs rather than returns any error, for defers.
func closeSession(ctx context.Context, s *session) {
	if err := s.Close(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("error closing session", "error", err)
	}
}

// newTracerProvider returns the global provider when no endpoint is
// configured, and an OTLP/HTTP exporting provider otherwise.
func newTracerProvider(ctx context.Context, cfg config.TracingConfig) (trace.TracerProvider, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return otel.GetTracerProvider(), noop, nil
	}

	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return nil, noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, noop, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}
