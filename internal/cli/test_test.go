package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

type testJSON struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// copyScenario copies a self-contained scenario into a fresh directory.
func copyScenario(t *testing.T, name string) (dir, file string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenariosDir, name))
	require.NoError(t, err)
	dir = t.TempDir()
	file = filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(file, data, 0o644))
	return dir, file
}

func TestTest_ScenarioDirectory(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ register_and_authenticate")
	assert.Contains(t, out, "✓ submit_fic")
	assert.Contains(t, out, "✓ delete_user")
	assert.Contains(t, out, "failed, 5 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_JSON(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--format", "json", "--filter", "submit_*")
	require.NoError(t, err)

	var res testJSON
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Passed)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, "submit_fic", res.Scenarios[0].Name)
	assert.Equal(t, "missing", res.Scenarios[0].Golden)
}

func TestTest_Golden(t *testing.T) {
	dir, file := copyScenario(t, "register_and_authenticate.yaml")
	golden := filepath.Join(dir, "golden", "register_and_authenticate.golden")

	out, _, err := execute(t, "test", file, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ register_and_authenticate (golden updated)")
	require.FileExists(t, golden)

	out, _, err = execute(t, "test", dir, "--format", "json")
	require.NoError(t, err)
	var res testJSON
	decodeResponse(t, out, &res)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, "match", res.Scenarios[0].Golden)

	want, err := os.ReadFile("../harness/testdata/golden/register_and_authenticate.golden")
	require.NoError(t, err)
	got, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario":"stale"}`), 0o644))
	out, _, err = execute(t, "test", file)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ register_and_authenticate")
	assert.Contains(t, out, "trace does not match golden file")
	assert.Contains(t, out, "Error [E_TEST_FAILED]: 1 scenario(s) failed")
}

func TestTest_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "wrong.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`name: wrong
flow:
  - invoke: UserAuthentication.register
    args: {username: ada, password: pw}
    expect:
      case: success
      result: {user: user-9}
assertions:
  - type: trace_count
    action: Library.addUser
    count: 1
`), 0o644))

	out, _, err := execute(t, "test", file, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res testJSON
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Scenarios, 1)
	assert.False(t, res.Scenarios[0].Pass)
	assert.NotEmpty(t, res.Scenarios[0].Errors)
}

func TestTest_InvalidScenarioFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(file, []byte("name: broken\n"), 0o644))

	out, _, err := execute(t, "test", file)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "failed to load scenario")
}

func TestTest_NoScenarios(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTest_CommandErrors(t *testing.T) {
	t.Run("no paths", func(t *testing.T) {
		_, _, err := execute(t, "test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires at least 1 arg")
	})

	t.Run("missing path", func(t *testing.T) {
		_, _, err := execute(t, "test", "does-not-exist")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "scenario path not found")
	})
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "submit_fic.golden"),
		goldenFilePath(filepath.Join("scenarios", "submit_fic.yaml"), "submit_fic"))
}
