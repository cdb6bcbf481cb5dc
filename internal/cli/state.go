package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/projection"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	Type string
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the projection rebuilt from the log",
		Long: `Rebuild the projection from the log and print it grouped by span type.

Results are null after a rebuild: actions are never re-run on replay.

Examples:
  logline state
  logline state --type greet
  logline state --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "show only this span type")

	return cmd
}

func runState(opts *StateOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	sess, err := openSession(ctx, opts.RootOptions, readLog)
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	rt := sess.runtime
	f := opts.formatter(cmd)

	if opts.Type != "" {
		entries := rt.Entries(opts.Type)
		if f.Format == "json" {
			return f.Success(map[string][]projection.Entry{opts.Type: entries})
		}
		if len(entries) == 0 {
			fmt.Fprintf(f.Writer, "No spans recorded for type %s.\n", opts.Type)
			return nil
		}
		writeEntries(f.Writer, opts.Type, entries)
		return nil
	}

	if f.Format == "json" {
		return f.Success(rt.State())
	}

	types := rt.Types()
	if len(types) == 0 {
		fmt.Fprintln(f.Writer, "No spans recorded.")
		return nil
	}
	for _, typ := range types {
		writeEntries(f.Writer, typ, rt.Entries(typ))
	}
	return nil
}

func writeEntries(w io.Writer, typ string, entries []projection.Entry) {
	fmt.Fprintf(w, "%s (%d)\n", typ, len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\n", e.Span.ToJSON())
	}
}
