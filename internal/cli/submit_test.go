package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logline/internal/spanlog"
)

func readLog(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	if len(b) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestSubmit_Text(t *testing.T) {
	env := newTestEnv(t, greetContracts()...)

	res := env.run(t, "", "submit", "greet", "--data", `{"name": "ada"}`)
	require.NoError(t, res.err)
	assert.Equal(t, "Recorded greet span_0001\nhello\n", res.stdout)

	lines := readLog(t, env.logPath)
	require.Len(t, lines, 1)
	assert.Equal(t, `{"type":"greet","span_id":"span_0001","timestamp":"2024-01-01T00:00:00.000Z","data":{"name":"ada"}}`, lines[0])
}

func TestSubmit_EmptyResult(t *testing.T) {
	env := newTestEnv(t, greetContracts()...)

	res := env.run(t, "", "submit", "audit", "--id", "a-1", "--parent", "span_0042")
	require.NoError(t, res.err)
	assert.Equal(t, "Recorded audit a-1\n", res.stdout)

	lines := readLog(t, env.logPath)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"parent_id":"span_0042"`)
}

func TestSubmit_TimestampWithoutOffset(t *testing.T) {
	env := newTestEnv(t, greetContracts()...)

	res := env.run(t, "", "submit", "audit", "--timestamp", "2024-01-01T00:00:00")
	require.NoError(t, res.err)

	lines := readLog(t, env.logPath)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"timestamp":"2024-01-01T00:00:00"`)
}

func TestSubmit_Failures(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		code    string
		message string
	}{
		{
			name:    "contract not found",
			args:    []string{"submit", "missing"},
			code:    "CONTRACT_NOT_FOUND",
			message: "No contract found for span type: missing",
		},
		{
			name:    "action fails",
			args:    []string{"submit", "fail"},
			code:    "EXECUTION",
			message: "Contract execution failed: exit status 3: boom",
		},
		{
			name:    "invalid data",
			args:    []string{"submit", "greet", "--data", "{not json"},
			code:    "VALIDATION",
			message: "data must be valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, greetContracts()...)

			res := env.run(t, "", tt.args...)
			require.Error(t, res.err)
			assert.Equal(t, ExitFailure, GetExitCode(res.err))
			assert.True(t, IsReported(res.err))
			assert.Contains(t, res.stdout, "Error ["+tt.code+"]: "+tt.message)

			assert.Empty(t, readLog(t, env.logPath), "failed submissions must not touch the log")
		})
	}
}

func TestSubmit_MissingContractsDir(t *testing.T) {
	env := newTestEnv(t)
	env.contractsDir = filepath.Join(t.TempDir(), "nope")

	res := env.run(t, "", "submit", "greet")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "contracts directory not found")
}

func TestSubmit_LogLocked(t *testing.T) {
	env := newTestEnv(t, greetContracts()...)

	holder, err := spanlog.Open(env.logPath)
	require.NoError(t, err)
	defer holder.Close()

	res := env.run(t, "", "submit", "greet")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.ErrorIs(t, res.err, spanlog.ErrLocked)
}

func TestSubmit_ReadCommandsIgnoreLock(t *testing.T) {
	env := newTestEnv(t, greetContracts()...)
	require.NoError(t, env.run(t, "", "submit", "greet").err)

	holder, err := spanlog.Open(env.logPath)
	require.NoError(t, err)
	defer holder.Close()

	res := env.run(t, "", "query")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, `"span_id":"span_0001"`)
}

func TestSubmit_SQLiteBackend(t *testing.T) {
	env := newTestEnv(t, greetContracts()...)
	env.logPath = filepath.Join(t.TempDir(), "spans.db")

	res := env.run(t, "", "submit", "greet", "--backend", "sqlite", "--data", `{"n":1}`)
	require.NoError(t, res.err)
	res = env.run(t, "", "submit", "greet", "--backend", "sqlite", "--data", `{"n":2}`)
	require.NoError(t, res.err)

	res = env.run(t, "", "query", "--backend", "sqlite")
	require.NoError(t, res.err)
	assert.Equal(t,
		`{"type":"greet","span_id":"span_0001","timestamp":"2024-01-01T00:00:00.000Z","data":{"n":1}}`+"\n"+
			`{"type":"greet","span_id":"span_0002","timestamp":"2024-01-01T00:00:01.000Z","data":{"n":2}}`+"\n",
		res.stdout)
}

func TestSubmit_MetricsTextfile(t *testing.T) {
	env := newTestEnv(t, greetContracts()...)
	path := filepath.Join(t.TempDir(), "logline.prom")

	res := env.run(t, "", "submit", "greet", "--metrics-file", path)
	require.NoError(t, res.err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `logline_submissions_total{outcome="ok"} 1`)
	assert.Contains(t, string(b), `logline_submission_transitions_total{state="DONE"} 1`)
}
