package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// maxInputLine bounds one NDJSON input line.
const maxInputLine = 16 << 20

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Input string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit spans read as NDJSON",
		Long: `Read span inputs as newline-delimited JSON and submit them in order.

Each line is a JSON object with a "type" and optional "span_id", "timestamp",
"parent_id" and "data". One outcome is written per line:
{"span":...,"result":"..."} when recorded, {"error":"..."} otherwise.
Blank lines are ignored. SIGINT or SIGTERM stops reading input; a span whose
action is already running is still recorded.

Exit codes:
  0 - Every span recorded (or input empty)
  1 - At least one submission failed
  2 - Command error (bad config, unreadable log, missing contracts dir)

Examples:
  logline run < spans.ndjson
  logline run --input spans.ndjson --log ./data/spans.log`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpans(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "read NDJSON from this file instead of stdin")

	return cmd
}

func runSpans(opts *RunOptions, cmd *cobra.Command) error {
	var in io.Reader = cmd.InOrStdin()
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		in = f
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	sess, err := openSession(ctx, opts.RootOptions, writeLog)
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)
	logger := sess.logger

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	lines, readErr := readLines(ctx, in)
	w := cmd.OutOrStdout()

	var submitted, failed, lineNo int
loop:
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			lineNo++
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			out := sess.runtime.SubmitJSON(ctx, line)
			submitted++
			if !out.OK() {
				failed++
				logger.Debug("line rejected", "line", lineNo, "error", out.Err)
			}
			if err := encode(w, out); err != nil {
				return WrapExitError(ExitCommandError, "failed to write outcome", err)
			}
		}
	}

	if ctx.Err() != nil {
		logger.Info("run stopped", "submitted", submitted, "failed", failed)
	} else {
		// readLines sends its error before closing lines.
		select {
		case err := <-readErr:
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read input", err)
			}
		default:
		}
		logger.Info("run finished", "submitted", submitted, "failed", failed)
	}

	if failed > 0 {
		return reported(ExitFailure, fmt.Sprintf("%d of %d submission(s) failed", failed, submitted))
	}
	return nil
}

// readLines streams r line by line until EOF or ctx is done. The error
// channel receives the scanner's error before lines is closed.
func readLines(ctx context.Context, r io.Reader) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxInputLine)
		for sc.Scan() {
			select {
			case lines <- bytes.Clone(sc.Bytes()):
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	return lines, errc
}
