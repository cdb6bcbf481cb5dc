package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logline/internal/contract"
)

func TestContractsDir_Loadable(t *testing.T) {
	c := Contract("greet", "printf hello")
	c.Exec.Timeout = "5s"
	dir := ContractsDir(t, c, Contract("audit", "true"))

	reg, err := contract.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	got, ok := reg.Resolve("greet")
	require.True(t, ok)
	assert.Equal(t, "printf hello", got.Exec.Command)
	assert.Equal(t, "5s", got.Exec.Timeout)
	assert.Equal(t, filepath.Join(dir, "greet.logline"), got.Source)
}

func TestAppendRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.log")
	AppendRaw(t, path, "a\n")
	AppendRaw(t, path, "b")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", string(b))
}

func TestOpenLog(t *testing.T) {
	l := OpenLog(t)
	assert.FileExists(t, l.Path())
}
