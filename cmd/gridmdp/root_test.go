package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--progress=false", "--color=false"}, args...))

	err := cmd.Execute()
	return stdout.String(), err
}

func TestCorridorPolicyIteration(t *testing.T) {
	out, err := runCommand(t, "corridor", "--algorithm", "pi", "--size", "5")
	require.NoError(t, err)

	assert.Contains(t, out, "corridor 5x1 (policy_iteration)")
	assert.Contains(t, out, "1.00")
	assert.Contains(t, out, "→")
	assert.NotContains(t, out, "←")
}

func TestCorridorValueIteration(t *testing.T) {
	out, err := runCommand(t, "corridor", "--algorithm", "vi")
	require.NoError(t, err)

	assert.Contains(t, out, "corridor 8x1 (value_iteration)")
	assert.Contains(t, out, "1.00")
	assert.NotContains(t, out, "←")
}

func TestGridWithTraps(t *testing.T) {
	out, err := runCommand(t, "grid", "--size", "4", "--alpha", "1", "--trap", "1,1", "--trap", "2, 2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	// title, four value rows, a blank line, four policy rows
	assert.Len(t, lines, 10)
	assert.Contains(t, lines[0], "grid 4x4")
}

func TestGridRejectsInvalidAlpha(t *testing.T) {
	_, err := runCommand(t, "grid", "--alpha", "1.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world.grid.alpha")
}

func TestGridRejectsMalformedTrap(t *testing.T) {
	_, err := runCommand(t, "grid", "--trap", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want x,y")
}

func TestVerifyReportsGap(t *testing.T) {
	out, err := runCommand(t, "corridor", "--verify", "--tolerance", "1e-9")
	require.NoError(t, err)

	const prefix = "max gap to exact evaluation: "
	i := strings.Index(out, prefix)
	require.GreaterOrEqual(t, i, 0, out)
	line := strings.TrimSpace(strings.SplitN(out[i+len(prefix):], "\n", 2)[0])
	gap, err := strconv.ParseFloat(line, 64)
	require.NoError(t, err)
	assert.Less(t, gap, 1e-6)
}

func TestFileOutputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	out, err := runCommand(t, "grid", "--format", "png,html", "--out", dir)
	require.NoError(t, err)
	assert.Empty(t, out)

	info, err := os.Stat(filepath.Join(dir, "values.png"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	page, err := os.ReadFile(filepath.Join(dir, "values.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "echarts")
}

func TestConfigFileOverriddenByFlags(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("world:\n  kind: corridor\n  corridor:\n    size: 7\nsolver:\n  algorithm: policy_iteration\n"), 0644))

	out, err := runCommand(t, "--config", configFile)
	require.NoError(t, err)
	assert.Contains(t, out, "corridor 7x1 (policy_iteration)")

	out, err = runCommand(t, "--config", configFile, "--algorithm", "value_iteration")
	require.NoError(t, err)
	assert.Contains(t, out, "corridor 7x1 (value_iteration)")
}

func TestParseTraps(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    [][]int
		wantErr bool
	}{
		{name: "single", input: []string{"1,2"}, want: [][]int{{1, 2}}},
		{name: "spaces", input: []string{" 3 , 4 "}, want: [][]int{{3, 4}}},
		{name: "several", input: []string{"0,1", "2,3"}, want: [][]int{{0, 1}, {2, 3}}},
		{name: "missing coordinate", input: []string{"1"}, wantErr: true},
		{name: "too many", input: []string{"1,2,3"}, wantErr: true},
		{name: "not a number", input: []string{"a,2"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTraps(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
