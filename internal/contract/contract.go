// Package contract loads contracts, the declarative bindings from a span type
// to an external action, and serves them through a read-only Registry.
//
// Contracts are discovered recursively under a directory. Supported files:
//   - *.logline, *.json: a JSON contract document
//   - *.yaml, *.yml: the same document in YAML
//   - *.cue: a CUE file evaluating to the same document
//
// Only minimal structural checks are applied: contract, version and
// description must be non-empty strings and exec.command must be present.
package contract

import (
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Exec describes the external command bound to a contract.
type Exec struct {
	// Command is run through the shell with the span in the SPAN variable.
	Command string `json:"command" yaml:"command"`

	// Timeout overrides the executor's default bound, e.g. "5s".
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Env adds variables to the command's environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Contract binds a span type (Name) to an Exec.
type Contract struct {
	Name        string `json:"contract" yaml:"contract"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Exec        Exec   `json:"exec" yaml:"exec"`

	// Source is the file the contract was loaded from, if any.
	Source string `json:"-" yaml:"-"`
}

// Validate applies the structural checks.
func (c Contract) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("contract field must be a string")
	}
	if c.Version == "" {
		return fmt.Errorf("version field must be a string")
	}
	if c.Description == "" {
		return fmt.Errorf("description field must be a string")
	}
	if c.Exec.Command == "" {
		return fmt.Errorf("exec.command is required")
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout returns the parsed exec.timeout, or 0 when unset.
func (c Contract) Timeout() (time.Duration, error) {
	if c.Exec.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Exec.Timeout)
	if err != nil {
		return 0, fmt.Errorf("exec.timeout %q: %w", c.Exec.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("exec.timeout %q must be positive", c.Exec.Timeout)
	}
	return d, nil
}

// normalize returns c with its name in Unicode NFC, matching span types.
func (c Contract) normalize() Contract {
	c.Name = norm.NFC.String(c.Name)
	return c
}
