package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/logline/internal/config"
	"github.com/roach88/logline/internal/span"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Config and Logger are resolved in PersistentPreRunE.
	Config *config.Config
	Logger *slog.Logger

	// IDs and Clock override span defaults (for testing).
	IDs   span.IDGenerator
	Clock span.Clock

	viper *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// configFlags maps config keys to the persistent flags that override them.
var configFlags = map[string]string{
	"log.path":         "log",
	"log.backend":      "backend",
	"contracts.dir":    "contracts",
	"exec.timeout":     "timeout",
	"logging.level":    "log-level",
	"logging.format":   "log-format",
	"metrics.textfile": "metrics-file",
	"tracing.endpoint": "otlp-endpoint",
	"tracing.insecure": "otlp-insecure",
}

// bindFlags binds each config key to its flag in fs. Every flag must exist.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, flags map[string]string) error {
	for key, name := range flags {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("bind %s: flag --%s not defined", key, name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// NewRootCommand creates the root command for the logline CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	opts.viper = config.NewViper()

	cmd := &cobra.Command{
		Use:   "logline",
		Short: "logline - contract-bound span log",
		Long: `An append-only log of typed spans.

Each submitted span is matched to a contract by its type, the contract's
command runs with the span in the SPAN environment variable, and the span is
recorded only if the command succeeds. State is rebuilt from the log on start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (forces debug logging)")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigFile, "config", "", "path to a YAML config file")
	pf.String("log", "./data/spans.log", "path to the span log")
	pf.String("backend", config.BackendFile, "span log backend (file|sqlite)")
	pf.String("contracts", "./contracts", "contracts directory")
	pf.Duration("timeout", config.DefaultTimeout, "default action timeout")
	pf.String("log-level", "info", "diagnostic log level (debug|info|warn|error)")
	pf.String("log-format", "text", "diagnostic log format (text|json)")
	pf.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")
	pf.String("otlp-endpoint", "", "OTLP/HTTP trace endpoint (host:port)")
	pf.Bool("otlp-insecure", false, "disable TLS for the OTLP endpoint")

	if err := bindFlags(opts.viper, pf, configFlags); err != nil {
		panic(err)
	}

	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewContractsCommand(opts))

	return cmd
}

// load resolves configuration and the diagnostic logger.
func (o *RootOptions) load(cmd *cobra.Command) error {
	if o.viper == nil {
		o.viper = config.NewViper()
	}
	cfg, err := config.Load(o.viper, o.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	slog.SetDefault(logger)

	o.Config = cfg
	o.Logger = logger
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
