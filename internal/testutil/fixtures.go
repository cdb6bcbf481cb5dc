package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/logline/internal/spanlog"
)

// ContractFile is the on-disk form of a contract fixture.
type ContractFile struct {
	Contract    string           `json:"contract"`
	Version     string           `json:"version"`
	Description string           `json:"description"`
	Exec        ContractFileExec `json:"exec"`
}

// ContractFileExec is the exec block of a contract fixture.
type ContractFileExec struct {
	Command string            `json:"command"`
	Timeout string            `json:"timeout,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Contract returns a fixture for name running command.
func Contract(name, command string) ContractFile {
	return ContractFile{
		Contract:    name,
		Version:     "1.0.0",
		Description: "test contract " + name,
		Exec:        ContractFileExec{Command: command},
	}
}

// WriteContract writes c as <dir>/<c.Contract>.logline and returns the path.
func WriteContract(t *testing.T, dir string, c ContractFile) string {
	t.Helper()
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		t.Fatalf("marshal contract fixture: %v", err)
	}
	path := filepath.Join(dir, c.Contract+".logline")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create contract dir: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write contract fixture: %v", err)
	}
	return path
}

// ContractsDir creates a temp directory holding the given contracts.
func ContractsDir(t *testing.T, contracts ...ContractFile) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "contracts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create contracts dir: %v", err)
	}
	for _, c := range contracts {
		WriteContract(t, dir, c)
	}
	return dir
}

// OpenLog opens a span log file in a temp directory and closes it when the
// test ends.
func OpenLog(t *testing.T, opts ...spanlog.Option) *spanlog.File {
	t.Helper()
	l, err := spanlog.Open(filepath.Join(t.TempDir(), "data", "spans.log"), opts...)
	if err != nil {
		t.Fatalf("open span log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// AppendRaw appends raw bytes to the file at path, bypassing the log. Used to
// simulate corruption and torn writes.
func AppendRaw(t *testing.T, path string, raw string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(raw); err != nil {
		t.Fatalf("append to %s: %v", path, err)
	}
}
