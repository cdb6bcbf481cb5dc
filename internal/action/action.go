// Package action invokes the external command bound to a span's contract.
//
// The span reaches the command as JSON in the SPAN environment variable.
// The command's standard output, with trailing whitespace removed, is the
// result. Every invocation is bounded by a timeout after which the command's
// process group is killed.
//
// Actions are not sandboxed. They may touch the filesystem or network.
package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/roach88/logline/internal/contract"
	"github.com/roach88/logline/internal/span"
)

// DefaultTimeout bounds an action when neither the contract nor the executor
// configures one.
const DefaultTimeout = 30 * time.Second

// DefaultWaitDelay is how long Run waits for the command's output pipes to
// close after the process was killed.
const DefaultWaitDelay = 2 * time.Second

// SpanEnv is the environment variable carrying the span JSON.
const SpanEnv = "SPAN"

// ErrTimeout is wrapped by Runner errors when the action ran out of time.
var ErrTimeout = errors.New("timed out")

// Runner runs one command to completion and returns its raw stdout.
type Runner interface {
	Run(ctx context.Context, e contract.Exec, input []byte, timeout time.Duration) (string, error)
}

// ShellRunner runs commands through a POSIX shell.
type ShellRunner struct {
	// Shell is the interpreter invoked with "-c". Defaults to /bin/sh.
	Shell string

	// WaitDelay defaults to DefaultWaitDelay.
	WaitDelay time.Duration
}

// Run executes e.Command with input in SPAN. A non-positive timeout means no
// bound other than ctx.
func (r ShellRunner) Run(ctx context.Context, e contract.Exec, input []byte, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	waitDelay := r.WaitDelay
	if waitDelay == 0 {
		waitDelay = DefaultWaitDelay
	}

	cmd := exec.CommandContext(ctx, shell, "-c", e.Command)
	cmd.Env = commandEnv(e.Env, input)
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case ctx.Err() != nil:
		return "", fmt.Errorf("cancelled: %w", ctx.Err())
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return "", fmt.Errorf("%w: %s", err, msg)
	}
	return "", err
}

// commandEnv layers the contract's variables and SPAN over the process
// environment. Later entries win.
func commandEnv(extra map[string]string, input []byte) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return append(env, SpanEnv+"="+string(input))
}

// ExecutionError reports that an action failed, timed out or could not start.
type ExecutionError struct {
	Contract string
	SpanID   string
	TimedOut bool
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("Contract execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Executor binds a Runner to timeout policy and logging.
type Executor struct {
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunner replaces the default ShellRunner.
func WithRunner(r Runner) Option {
	return func(e *Executor) {
		e.runner = r
	}
}

// WithDefaultTimeout sets the bound for contracts that do not carry their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		runner:  ShellRunner{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the bound that applies to c.
func (e *Executor) Timeout(c contract.Contract) time.Duration {
	if d, err := c.Timeout(); err == nil && d > 0 {
		return d
	}
	return e.timeout
}

// Execute runs c's action for s and returns the trimmed stdout.
// Any failure is an *ExecutionError.
func (e *Executor) Execute(ctx context.Context, c contract.Contract, s span.Span) (string, error) {
	timeout := e.Timeout(c)
	start := time.Now()

	out, err := e.runner.Run(ctx, c.Exec, s.ToJSON(), timeout)
	if err != nil {
		execErr := &ExecutionError{
			Contract: c.Name,
			SpanID:   s.ID(),
			TimedOut: errors.Is(err, ErrTimeout),
			Err:      err,
		}
		e.logger.Warn("action failed",
			"contract", c.Name,
			"span_id", s.ID(),
			"timed_out", execErr.TimedOut,
			"duration", time.Since(start),
			"error", err,
		)
		return "", execErr
	}

	e.logger.Debug("action completed",
		"contract", c.Name,
		"span_id", s.ID(),
		"duration", time.Since(start),
	)
	return strings.TrimRightFunc(out, unicode.IsSpace), nil
}
