package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/runtime"
	"github.com/roach88/logline/internal/span"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Type  string
	Limit int
}

// QueryResult is the JSON payload of the query command.
type QueryResult struct {
	Spans []span.Span `json:"spans"`
	Count int         `json:"count"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List recorded spans in log order",
		Long: `List spans from the log in append order, optionally filtered by type.

Text output is one span per line in the log's own JSON form. Records that
cannot be decoded are skipped.

Examples:
  logline query
  logline query --type greet --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "only spans of this type")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "maximum number of spans (0 = all)")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	sess, err := openSession(ctx, opts.RootOptions, readLog)
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	spans, err := sess.runtime.Query(ctx, runtime.QueryOptions{Type: opts.Type, Limit: opts.Limit})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query span log", err)
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		if spans == nil {
			spans = []span.Span{}
		}
		return f.Success(QueryResult{Spans: spans, Count: len(spans)})
	}

	for _, s := range spans {
		if _, err := f.Writer.Write(append(s.ToJSON(), '\n')); err != nil {
			return err
		}
	}
	f.VerboseLog("%d span(s)", len(spans))
	return nil
}
