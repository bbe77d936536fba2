package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureJSON = `[
  {"_id": {"$oid": "68a1f0c2e4b0a1b2c3d4e501"}, "brandName": "Acme", "established": "1899", "storeCount": "0"},
  {"_id": {"$oid": "68a1f0c2e4b0a1b2c3d4e502"}, "name": "Zed Co", "yearFounded": "3000", "numberOfLocations": "12"}
]`

func testEnv(t *testing.T, vars map[string]string) (env, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "brands.json", []byte(fixtureJSON), 0o644))

	var stdout, stderr bytes.Buffer
	return env{
		stdout: &stdout,
		stderr: &stderr,
		fs:     fs,
		lookup: func(k string) (string, bool) {
			v, ok := vars[k]
			return v, ok
		},
	}, &stdout, &stderr
}

func TestExecute_RunMissingURI(t *testing.T) {
	e, stdout, stderr := testEnv(t, nil)

	code := execute([]string{"run", "--log-format", "text"}, e)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "store connection string is not set")
}

func TestExecute_RunSQLite(t *testing.T) {
	uri := "sqlite://" + filepath.Join(t.TempDir(), "brands.db")
	e, stdout, stderr := testEnv(t, map[string]string{"STORE_URI": uri})

	code := execute([]string{"run", "--seed-count", "4", "--out", "export/brands.json", "--log-format", "text"}, e)
	require.Equal(t, 0, code, stderr.String())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 7)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line, string(rune('1'+i))+"/7: "), line)
	}

	data, err := afero.ReadFile(e.fs, "export/brands.json")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.Len(t, entries, 6)
}

func TestExecute_RunUsesDotEnv(t *testing.T) {
	uri := "sqlite://" + filepath.Join(t.TempDir(), "brands.db")
	e, stdout, _ := testEnv(t, nil)
	require.NoError(t, afero.WriteFile(e.fs, ".env", []byte("MONGODB_URI="+uri+"\n"), 0o644))

	code := execute([]string{"run", "--seed-count", "0"}, e)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "1/7: Connected to sqlite store.")
}

func TestExecute_RunConnectFailure(t *testing.T) {
	e, stdout, stderr := testEnv(t, map[string]string{"STORE_URI": "redis://localhost:6379"})

	code := execute([]string{"run", "--log-format", "text"}, e)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "unknown store scheme")
}

func TestExecute_InvalidConfig(t *testing.T) {
	e, _, stderr := testEnv(t, nil)
	require.NoError(t, afero.WriteFile(e.fs, "config.yaml", []byte("seed:\n  min_year: 1200\n"), 0o644))

	code := execute([]string{"run"}, e)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "invalid configuration")
}

func TestExecute_Normalize(t *testing.T) {
	e, stdout, stderr := testEnv(t, nil)

	code := execute([]string{"normalize", "--year", "2024"}, e)
	require.Equal(t, 0, code, stderr.String())

	var got []preview
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	require.Len(t, got, 2)

	assert.Equal(t, "68a1f0c2e4b0a1b2c3d4e501", got[0].ID)
	assert.Equal(t, "Acme", got[0].BrandName)
	assert.Equal(t, 1899, got[0].YearFounded)
	assert.Equal(t, "Unknown", got[0].Headquarters)
	assert.Equal(t, 1, got[0].NumberOfLocations)
	assert.ElementsMatch(t, []string{"headquarters", "numberOfLocations"}, got[0].Adjusted)

	assert.Equal(t, "Zed Co", got[1].BrandName)
	assert.Equal(t, 2024, got[1].YearFounded)
	assert.Equal(t, 12, got[1].NumberOfLocations)
}

func TestExecute_NormalizeYAML(t *testing.T) {
	e, stdout, _ := testEnv(t, nil)

	code := execute([]string{"normalize", "--year", "2024", "--format", "yaml"}, e)
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "- _id: 68a1f0c2e4b0a1b2c3d4e501\n"), stdout.String())
}

func TestExecute_UnknownCommand(t *testing.T) {
	e, _, stderr := testEnv(t, nil)
	assert.Equal(t, 1, execute([]string{"serve"}, e))
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestExecute_NormalizeRejectsYearBeforeEarliestFounding(t *testing.T) {
	e, stdout, stderr := testEnv(t, nil)

	code := execute([]string{"normalize", "--year", "1500"}, e)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "--year 1500 is before 1600")
}
