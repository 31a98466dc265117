package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/DialogStudio/internal/api"
	"github.com/AaronLay10/DialogStudio/internal/branch"
)

const greeting = `{
  "name": "Greeting",
  "language": "uk",
  "scenario_data": {
    "start_node": "hello",
    "nodes": [
      {"id": "hello", "type": "announce", "parameters": {"message": "Hi"}, "next_nodes": ["bye"]},
      {"id": "bye", "type": "end", "parameters": {"message": "Bye"}, "next_nodes": []}
    ],
    "edges": [{"source": "hello", "target": "bye", "sourceHandle": null, "targetHandle": null}]
  }
}`

type result struct {
	code   int
	stdout string
	stderr string
}

func newAPI(t *testing.T) string {
	t.Helper()
	store := branch.NewStore(branch.NewMemoryBackend())
	srv := httptest.NewServer(api.NewServer(store).Routes())
	t.Cleanup(srv.Close)
	return srv.URL + "/api/v1"
}

func studio(t *testing.T, args ...string) result {
	t.Helper()
	t.Setenv("DIALOGSTUDIO_CONFIG", "")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"-author", "tester"}, args...), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	path := writeFile(t, "greeting.json", greeting)

	res := studio(t, "validate", path)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "2 nodes, 1 edges, no warnings")

	bad := writeFile(t, "bad.json", "{not json")
	res = studio(t, "validate", bad)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error:")
}

func TestImportListExport(t *testing.T) {
	base := newAPI(t)
	path := writeFile(t, "greeting.json", greeting)

	res := studio(t, "-api", base, "import", path)
	require.Equal(t, 0, res.code, res.stderr)
	id := strings.TrimSpace(res.stdout)
	require.NotEmpty(t, id)

	res = studio(t, "-api", base, "list")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, id+"\tGreeting\n", res.stdout)

	out := filepath.Join(t.TempDir(), "out.json")
	res = studio(t, "-api", base, "export", id, "-o", out)
	require.Equal(t, 0, res.code, res.stderr)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"start_node": "hello"`)

	// re-import over the same id keeps one scenario
	res = studio(t, "-api", base, "import", path, "-id", id)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, id, strings.TrimSpace(res.stdout))
}

func TestImportMalformedFile(t *testing.T) {
	base := newAPI(t)
	path := writeFile(t, "bad.json", `{"name": "x", "scenario_data": 7}`)

	res := studio(t, "-api", base, "import", path)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "import failed")
}

func TestBranchCommands(t *testing.T) {
	base := newAPI(t)
	path := writeFile(t, "greeting.json", greeting)
	require.Equal(t, 0, studio(t, "-api", base, "import", path).code)

	res := studio(t, "-api", base, "branch", "create", "feature/menu")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "created feature/menu from main (1 scenarios)\n", res.stdout)

	res = studio(t, "-api", base, "branch", "list")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "main\nfeature/menu\n", res.stdout)

	res = studio(t, "-api", base, "branch", "merge", "feature/menu")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Merged feature/menu into main\n", res.stdout)

	res = studio(t, "-api", base, "branch", "delete", "feature/menu")
	require.Equal(t, 0, res.code, res.stderr)

	res = studio(t, "-api", base, "branch", "delete", "main")
	assert.Equal(t, 1, res.code)

	res = studio(t, "-api", base, "branch", "history")
	require.Equal(t, 0, res.code, res.stderr)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[1], `"UPDATE_BRANCH"`)
	assert.Contains(t, lines[1], `"tester"`)
	assert.Contains(t, lines[len(lines)-1], `"DELETE_BRANCH"`)
	assert.Contains(t, lines[len(lines)-1], `"tester"`)
}

func TestUsageErrors(t *testing.T) {
	assert.Equal(t, 2, studio(t).code)
	assert.Equal(t, 2, studio(t, "frobnicate").code)
	assert.Equal(t, 2, studio(t, "validate").code)
	assert.Equal(t, 2, studio(t, "branch").code)
	assert.Equal(t, 2, studio(t, "branch", "create").code)
}
