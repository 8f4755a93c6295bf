package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetsync/internal/model"
)

const testDataset = `{"version": "1.0.0", "models": [{"k": 1}, {"k": 2}]}`

const testDescriptor = `{
	// exported from the Line A commissioning sheet
	"format": "machine-fleet",
	"schemaVersion": "1.0",
	"fleet": {"name": "Line A"},
	"machines": [
		{"id": "m1", "name": "Pump 1", "isGoldStandard": true},
		{"id": "m2", "name": "Pump 2", "location": "Hall 3"},
	],
	"goldStandardId": "m1",
	"goldStandardModels": {"models": [{"k": 1}]},
	"exportFormatVersion": 1
}`

// testEnv is a config file, a database path and a remote serving files by path.
type testEnv struct {
	dir    string
	remote *httptest.Server
	config string
	db     string
}

func newTestEnv(t *testing.T, files map[string]string, extraConfig string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := fmt.Sprintf("remote:\n  base_url: %s\n  timeout: 5s\n%s", srv.URL, extraConfig)
	cfgPath := filepath.Join(dir, "fleetsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	return &testEnv{
		dir:    dir,
		remote: srv,
		config: cfgPath,
		db:     filepath.Join(dir, "fleetsync.db"),
	}
}

// writeFile writes content into the env directory and returns its path.
func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes the root command with the env's config and database.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.config, "--db", e.db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func newMachine(id string) *model.Machine {
	return &model.Machine{ID: id, Name: "Machine " + id, CreatedAt: time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)}
}
