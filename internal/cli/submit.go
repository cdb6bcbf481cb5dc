package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/runtime"
	"github.com/roach88/logline/internal/span"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Data      string
	ParentID  string
	ID        string
	Timestamp string
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <type>",
		Short: "Submit one span",
		Long: `Submit one span of the given type.

The span's contract is resolved by type and its command is run with the span
in the SPAN environment variable. The span is appended to the log only if the
command succeeds; the command's trimmed output is printed as the result.

Exit codes:
  0 - Span recorded
  1 - Submission failed (validation, missing contract, action or persistence)
  2 - Command error (bad config, unreadable log, missing contracts dir)

Examples:
  logline submit greet --data '{"name":"ada"}'
  logline submit greet --parent span_0190f0c2 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "span data as a JSON value (default {})")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent span_id")
	cmd.Flags().StringVar(&opts.ID, "id", "", "span_id (generated if empty)")
	cmd.Flags().StringVar(&opts.Timestamp, "timestamp", "", "ISO-8601 timestamp (now if empty)")

	return cmd
}

func runSubmit(opts *SubmitOptions, spanType string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	sess, err := openSession(ctx, opts.RootOptions, writeLog)
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	in := span.Input{
		Type:      spanType,
		ID:        opts.ID,
		Timestamp: opts.Timestamp,
		ParentID:  opts.ParentID,
	}
	if opts.Data != "" {
		in.Data = []byte(opts.Data)
	}

	out := sess.runtime.Submit(ctx, in)
	return reportOutcome(opts.formatter(cmd), out)
}

// reportOutcome prints one submission outcome and maps failure to
// ExitFailure.
func reportOutcome(f *OutputFormatter, out runtime.Outcome) error {
	if !out.OK() {
		if err := f.Error(errorCode(out.Err), out.Err.Error(), nil); err != nil {
			return err
		}
		return reported(ExitFailure, out.Err.Error())
	}

	if f.Format == "json" {
		return f.Success(out)
	}
	fmt.Fprintf(f.Writer, "Recorded %s %s\n", out.Span.Type(), out.Span.ID())
	if out.Result != "" {
		fmt.Fprintln(f.Writer, out.Result)
	}
	return nil
}

// errorCode returns the runtime error code for err, or "ERROR".
func errorCode(err error) string {
	var re *runtime.Error
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return "ERROR"
}
