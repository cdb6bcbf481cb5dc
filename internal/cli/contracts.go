package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/contract"
)

// ContractInfo is one loaded contract as reported by the contracts command.
type ContractInfo struct {
	Name        string `json:"contract"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Command     string `json:"command"`
	Timeout     string `json:"timeout,omitempty"`
	Source      string `json:"source"`
}

// ContractsResult is the JSON payload of the contracts command.
type ContractsResult struct {
	Contracts []ContractInfo `json:"contracts"`
	Count     int            `json:"count"`
}

// NewContractsCommand creates the contracts command.
func NewContractsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Load, check and list contracts",
		Long: `Load every contract under the contracts directory, report files that fail
the structural checks and list the contracts that loaded.

Exit codes:
  0 - All contract files loaded
  1 - One or more contract files failed to load
  2 - Command error (contracts directory missing, bad config)

Examples:
  logline contracts
  logline contracts --contracts ./contracts --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContracts(rootOpts, cmd)
		},
	}

	return cmd
}

func runContracts(opts *RootOptions, cmd *cobra.Command) error {
	dir := opts.Config.Contracts.Dir
	f := opts.formatter(cmd)

	reg, errs := contract.LoadAll(dir, contract.LoadModeCollectAll)
	if reg == nil {
		return WrapExitError(ExitCommandError, "failed to load contracts", errors.Join(errs...))
	}

	result := ContractsResult{Contracts: make([]ContractInfo, 0, reg.Len())}
	for _, c := range reg.Contracts() {
		result.Contracts = append(result.Contracts, ContractInfo{
			Name:        c.Name,
			Version:     c.Version,
			Description: c.Description,
			Command:     c.Exec.Command,
			Timeout:     c.Exec.Timeout,
			Source:      relSource(dir, c.Source),
		})
	}
	result.Count = len(result.Contracts)

	if len(errs) > 0 {
		return reportLoadErrors(f, dir, result, errs)
	}

	if f.Format == "json" {
		return f.Success(result)
	}
	writeContractTable(f, result)
	return nil
}

// loadErrorDetail is one failed file in the JSON error details.
type loadErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func reportLoadErrors(f *OutputFormatter, dir string, result ContractsResult, errs []error) error {
	details := make([]loadErrorDetail, 0, len(errs))
	for _, err := range errs {
		d := loadErrorDetail{Code: contract.ErrCodeGeneric, Message: err.Error()}
		var le *contract.LoadError
		if errors.As(err, &le) {
			d = loadErrorDetail{Code: le.Code, Message: le.Message, Path: relSource(dir, le.Path)}
		}
		details = append(details, d)
	}
	message := fmt.Sprintf("%d contract file(s) failed to load", len(errs))

	if f.Format == "json" {
		if err := encode(f.Writer, CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    details[0].Code,
				Message: message,
				Details: details,
			},
		}); err != nil {
			return err
		}
		return reported(ExitFailure, message)
	}

	for _, d := range details {
		fmt.Fprintf(f.Writer, "Error [%s]: %s: %s\n", d.Code, d.Path, d.Message)
	}
	writeContractTable(f, result)
	return reported(ExitFailure, message)
}

func writeContractTable(f *OutputFormatter, result ContractsResult) {
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	for _, c := range result.Contracts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Version, c.Description, c.Source)
	}
	tw.Flush()
	fmt.Fprintf(f.Writer, "%d contract(s) loaded\n", result.Count)
}

// relSource reports a contract path relative to the contracts directory.
func relSource(dir, path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
