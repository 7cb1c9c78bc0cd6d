package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: submit_and_accept
description: "A request is accepted and the price moves"
setup:
  - action: create_user
    args: { handle: ann }
  - action: create_user
    args: { handle: bob }
  - action: post_book
    actor: ann
    args: { title: Dune, price: 2 }
    as: dune
flow:
  - action: submit_request
    actor: bob
    args: { book: $dune }
    as: req
  - action: accept
    actor: ann
    args: { request: $req }
assertions:
  - type: document
    collection: users
    id: bob
    expect: { tickets: 98 }
  - type: settled
`

const failingScenario = `name: wrong_balance
description: "Expects a balance that never happens"
setup:
  - action: create_user
    args: { handle: ann }
flow:
  - action: top_up
    args: { handle: ann, amount: 5 }
assertions:
  - type: document
    collection: users
    id: ann
    expect: { tickets: 1 }
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runTestCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	for len(args) > 0 && args[0] == "--json" {
		cmd = NewTestCommand(&RootOptions{Format: "json"})
		args = args[1:]
	}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	cmd.SetContext(t.Context())
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCommand(t, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCommand(t, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommandPassingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "submit_and_accept", passingScenario)

	out, err := runTestCommand(t, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ submit_and_accept")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "submit_and_accept", passingScenario)
	writeScenario(t, dir, "wrong_balance", failingScenario)

	out, err := runTestCommand(t, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_balance")
	assert.Contains(t, out, "users/ann tickets = 1")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandGoldenLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "submit_and_accept", passingScenario)
	goldenPath := filepath.Join(dir, "golden", "submit_and_accept.golden")

	out, err := runTestCommand(t, dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ submit_and_accept (golden updated)")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario":"submit_and_accept"`)
	assert.Contains(t, string(golden), `"tickets":{"ann":102,"bob":98}`)

	_, err = runTestCommand(t, dir)
	require.NoError(t, err, "golden written by --update must match")

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario":"stale"}`), 0o644))
	out, err = runTestCommand(t, dir)
	require.Error(t, err)
	assert.Contains(t, out, "Golden file mismatch")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "submit_and_accept", passingScenario)
	writeScenario(t, dir, "wrong_balance", failingScenario)

	out, err := runTestCommand(t, dir, "--filter", "submit_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "wrong_balance")

	_, err = runTestCommand(t, dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken", "name: broken\nflows: []\n")

	out, err := runTestCommand(t, dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong_balance", failingScenario)

	out, err := runTestCommand(t, "--json", dir)
	require.Error(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   TestResult     `json:"data"`
		Error  *ResponseError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, err := runTestCommand(t, filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ All scenarios passed")
}
