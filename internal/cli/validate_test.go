package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/choreo/internal/app"
)

const lonelyRule = `rule: LonelyAddUser: {
	when: [{
		action: "Requesting.request"
		inputs: {path: "/lonely", user: "$user"}
		outputs: {request: "$request"}
	}]
	then: [{action: "Library.addUser", inputs: {user: "$user"}}]
}
`

const unknownActionRule = `rule: Explode: {
	when: [{action: "Library.addUser", inputs: {user: "$user"}}]
	then: [{action: "Library.explode", inputs: {user: "$user"}}]
}
`

func writeRules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func baseRuleCount(t *testing.T) int {
	t.Helper()
	rules, err := app.Rules()
	require.NoError(t, err)
	return len(rules)
}

type validateJSON struct {
	Valid   bool     `json:"valid"`
	Rules   int      `json:"rules"`
	Files   []string `json:"files"`
	Compile []string `json:"compile_errors"`
	Report  struct {
		Errors    []any `json:"errors"`
		Uncovered []struct {
			Path  string   `json:"path"`
			Rules []string `json:"rules"`
		} `json:"uncovered"`
	} `json:"report"`
}

func TestValidate_ApplicationRules(t *testing.T) {
	out, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All rules valid")
}

func TestValidate_ExtraRules(t *testing.T) {
	out, _, err := execute(t, "validate", "../harness/testdata/rules", "--format", "json")
	require.NoError(t, err)

	var res validateJSON
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, res.Valid)
	assert.Equal(t, baseRuleCount(t)+2, res.Rules)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "whoami.cue", filepath.Base(res.Files[0]))
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "syntax error",
			files: map[string]string{"broken.cue": "rule: Broken: {\n"},
			want:  "error: ",
		},
		{
			name:  "unknown action",
			files: map[string]string{"explode.cue": unknownActionRule},
			want:  "Library.explode",
		},
		{
			name:  "no cue files",
			files: map[string]string{"README.md": "nothing here"},
			want:  "error: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, "validate", writeRules(t, tt.files))
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, tt.want)
			assert.Contains(t, out, "✗ Validation failed")
			assert.Contains(t, out, "Error [E_INVALID_RULES]")
		})
	}
}

func TestValidate_FailureJSON(t *testing.T) {
	dir := writeRules(t, map[string]string{"explode.cue": unknownActionRule})
	out, _, err := execute(t, "validate", dir, "--format", "json")
	require.Error(t, err)

	var res validateJSON
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRules, resp.Error.Code)
	assert.False(t, res.Valid)
	assert.Len(t, res.Report.Errors, 1)
}

func TestValidate_UncoveredPath(t *testing.T) {
	dir := writeRules(t, map[string]string{"lonely.cue": lonelyRule})

	t.Run("warning", func(t *testing.T) {
		out, _, err := execute(t, "validate", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "warning: no rule chain responds to /lonely (matched by LonelyAddUser)")
		assert.Contains(t, out, "✓ All rules valid")
	})

	t.Run("strict", func(t *testing.T) {
		out, _, err := execute(t, "validate", dir, "--strict", "--format", "json")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var res validateJSON
		decodeResponse(t, out, &res)
		assert.False(t, res.Valid)
		require.Len(t, res.Report.Uncovered, 1)
		assert.Equal(t, "/lonely", res.Report.Uncovered[0].Path)
	})
}

func TestValidate_CommandErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, _, err := execute(t, "validate", "does-not-exist")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "rules directory not found")
	})

	t.Run("too many args", func(t *testing.T) {
		_, _, err := execute(t, "validate", "a", "b")
		require.Error(t, err)
	})
}
