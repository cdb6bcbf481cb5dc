package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGoldenJSON pins the JSON envelope of every command. To regenerate:
//
//	go test ./internal/cli -run TestGoldenJSON -update
func TestGoldenJSON(t *testing.T) {
	tests := []struct {
		name     string
		seed     bool
		stdin    string
		args     []string
		exitCode int
	}{
		{
			name: "submit_ok",
			args: []string{"submit", "greet", "--data", `{"name": "ada"}`},
		},
		{
			name:     "submit_contract_not_found",
			args:     []string{"submit", "missing"},
			exitCode: ExitFailure,
		},
		{
			name:     "submit_execution_failed",
			args:     []string{"submit", "fail"},
			exitCode: ExitFailure,
		},
		{
			name: "query",
			seed: true,
			args: []string{"query"},
		},
		{
			name: "query_by_type",
			seed: true,
			args: []string{"query", "--type", "audit"},
		},
		{
			name: "state",
			seed: true,
			args: []string{"state"},
		},
		{
			name: "replay",
			seed: true,
			args: []string{"replay"},
		},
		{
			name: "contracts",
			args: []string{"contracts"},
		},
		{
			name: "run",
			stdin: `{"type":"greet","data":{"n":1}}
{"type":"nope"}

{"data":{}}
{"type":"greet","span_id":"custom-1","timestamp":"2024-06-01T12:00:00Z","parent_id":"span_0001"}
`,
			args:     []string{"run"},
			exitCode: ExitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, greetContracts()...)
			if tt.seed {
				seed(t, env)
			}

			res := env.run(t, tt.stdin, append(tt.args, "--format", "json")...)
			require.Equal(t, tt.exitCode, GetExitCode(res.err), "unexpected error: %v", res.err)

			newGolden(t).Assert(t, tt.name, []byte(res.stdout))
		})
	}
}
