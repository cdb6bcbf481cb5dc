package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	lltest "github.com/roach88/logline/internal/testutil"
)

// testEnv is an isolated log and contracts directory shared by several CLI
// invocations, with deterministic span IDs and timestamps.
type testEnv struct {
	logPath      string
	contractsDir string
	ids          *lltest.SequenceGenerator
	clock        *lltest.StepClock
}

func newTestEnv(t *testing.T, contracts ...lltest.ContractFile) *testEnv {
	t.Helper()
	return &testEnv{
		logPath:      filepath.Join(t.TempDir(), "data", "spans.log"),
		contractsDir: lltest.ContractsDir(t, contracts...),
		ids:          lltest.NewSequenceGenerator(""),
		clock:        lltest.NewStepClock(time.Second),
	}
}

// cliResult captures one command execution.
type cliResult struct {
	stdout string
	stderr string
	err    error
}

// run executes the root command against e with stdin and args.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()

	cmd := newRootCommand(&RootOptions{IDs: e.ids, Clock: e.clock})
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))

	base := []string{"--log", e.logPath, "--contracts", e.contractsDir, "--log-level", "error"}
	cmd.SetArgs(append(base, args...))

	err := cmd.Execute()
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

// greetContracts is the standard fixture: greet echoes a constant, audit
// prints nothing, fail always exits non-zero.
func greetContracts() []lltest.ContractFile {
	return []lltest.ContractFile{
		lltest.Contract("greet", "printf hello"),
		lltest.Contract("audit", "true"),
		lltest.Contract("fail", "echo boom >&2; exit 3"),
	}
}

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}
