package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const diamondYAML = `
id: wf
nodes:
  - id: d
    type: passthrough
  - id: b
    type: passthrough
  - id: c
    type: passthrough
  - id: a
    type: passthrough
    config:
      values:
        greeting: hi
edges:
  - {id: e1, source: a, target: b}
  - {id: e2, source: a, target: c}
  - {id: e3, source: b, target: d}
  - {id: e4, source: c, target: d}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := execute("validate", writeFile(t, "g.yaml", diamondYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "valid (4 nodes, 4 edges)")

	cyclic := `{"id":"wf","nodes":[{"id":"a","type":"x"},{"id":"b","type":"x"}],` +
		`"edges":[{"id":"e1","source":"a","target":"b"},{"id":"e2","source":"b","target":"a"}]}`
	out, err = execute("validate", writeFile(t, "g.json", cyclic))
	require.Error(t, err)
	assert.Contains(t, out, "cycle_detected")
}

func TestPlan(t *testing.T) {
	out, err := execute("plan", writeFile(t, "g.yaml", diamondYAML))
	require.NoError(t, err)
	assert.Equal(t, "layer 0: a\nlayer 1: b, c\nlayer 2: d\n", out)
}

func TestLoadGraph_ConfigMaps(t *testing.T) {
	graph, err := loadGraph(writeFile(t, "g.yaml", diamondYAML))
	require.NoError(t, err)

	values, ok := graph.Nodes[3].Config["values"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", values["greeting"])
}

func TestDeploy(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workflows/wf/deployments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"version_number":1,"status":"active"}`))
	}))
	defer srv.Close()

	out, err := execute("--server", srv.URL, "deploy", "wf", writeFile(t, "g.yaml", diamondYAML), "--description", "first")
	require.NoError(t, err)
	assert.Contains(t, out, `"version_number": 1`)
	assert.Equal(t, "first", got["description"])
}

func TestRollback_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_ROLLBACKABLE","message":"deployment version is not rollbackable"}}`))
	}))
	defer srv.Close()

	out, err := execute("--server", srv.URL, "rollback", "wf", "--version", "2")
	require.Error(t, err)
	assert.Contains(t, out, "NOT_ROLLBACKABLE")
}
