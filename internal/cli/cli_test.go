/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/httpserver"
	"github.com/tollgate/tollgate/limits/store"
	"github.com/tollgate/tollgate/log/logtest"
	"github.com/tollgate/tollgate/service"
	"github.com/tollgate/tollgate/testutil"
)

const testRulesYAML = `
configs:
  - {id: standard, scope: class, target: standard, rpm: 2, rph: 100, burst: 10, active: true}
endpoints:
  - {id: login, pattern: "= /login", method: POST, rpm: 1, active: true}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeDecisions(t *testing.T, out string) []checkDecision {
	t.Helper()
	var decisions []checkDecision
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var d checkDecision
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &d))
		decisions = append(decisions, d)
	}
	require.NoError(t, scanner.Err())
	return decisions
}

func TestVersionCommand(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "tollgate "), out)

	out, err = execute("version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.NotEmpty(t, info["version"])
	require.NotEmpty(t, info["goVersion"])
}

func TestCheckCommand(t *testing.T) {
	cfgPath := writeFile(t, "tollgate.yaml", `
log:
  level: error
store:
  type: memory
  rules:
    configs:
      - {id: standard, scope: class, target: standard, rpm: 2, rph: 100, burst: 10, active: true}
`)

	t.Run("identity is rejected after its per-minute limit", func(t *testing.T) {
		out, err := execute("check", "-c", cfgPath, "--identity", "alice", "--path", "/api/items", "-n", "3")
		require.NoError(t, err)
		decisions := decodeDecisions(t, out)
		require.Len(t, decisions, 3)

		require.True(t, decisions[0].Allowed)
		require.Equal(t, 1, decisions[0].Remaining)
		require.True(t, decisions[1].Allowed)
		require.Equal(t, 0, decisions[1].Remaining)
		require.False(t, decisions[2].Allowed)
		require.EqualValues(t, "class", decisions[2].LimitType)
		require.Equal(t, 2, decisions[2].Limit)
		require.Positive(t, decisions[2].ResetAfterMs)
	})

	t.Run("inspect", func(t *testing.T) {
		out, err := execute("check", "-c", cfgPath, "--address", "203.0.113.7", "--inspect")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		var windows checkWindows
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &windows))
		require.Equal(t, "addr:203.0.113.7", windows.SubjectKey)
		require.NotEmpty(t, windows.Windows)
	})

	t.Run("subject is required", func(t *testing.T) {
		_, err := execute("check", "-c", cfgPath)
		require.EqualError(t, err, "either --identity or --address is required")
	})

	t.Run("count should be positive", func(t *testing.T) {
		_, err := execute("check", "-c", cfgPath, "--identity", "alice", "-n", "0")
		require.EqualError(t, err, "--count should be positive")
	})
}

func TestRulesCommands(t *testing.T) {
	rulesPath := writeFile(t, "rules.yaml", testRulesYAML)

	t.Run("validate", func(t *testing.T) {
		out, err := execute("rules", "validate", rulesPath)
		require.NoError(t, err)
		require.Contains(t, out, "1 configs, 0 overrides, 1 endpoint rules are valid")

		badPath := writeFile(t, "bad.yaml", "configs:\n  - {id: c, scope: class, rpm: 1}\n")
		_, err = execute("rules", "validate", badPath)
		require.ErrorContains(t, err, "class scope requires a target")
	})

	t.Run("import into sqlite and check", func(t *testing.T) {
		cfgPath := writeFile(t, "tollgate.yaml", fmt.Sprintf(`
log:
  level: error
store:
  type: sqlite
  path: %s
`, filepath.Join(t.TempDir(), "rules.db")))

		out, err := execute("-c", cfgPath, "rules", "import", rulesPath)
		require.NoError(t, err)
		require.Equal(t, "imported 1 configs, 0 overrides, 1 endpoint rules\n", out)

		out, err = execute("check", "-c", cfgPath, "--identity", "bob", "--method", "POST", "--path", "/login", "-n", "2")
		require.NoError(t, err)
		decisions := decodeDecisions(t, out)
		require.Len(t, decisions, 2)
		require.True(t, decisions[0].Allowed)
		require.Equal(t, "login", decisions[0].Endpoint)
		require.False(t, decisions[1].Allowed)
		require.EqualValues(t, "endpoint", decisions[1].LimitType)
	})

	t.Run("memory store cannot be written", func(t *testing.T) {
		_, err := execute("rules", "import", rulesPath)
		require.EqualError(t, err, "rules cannot be imported into memory store")
	})
}

func TestGatewayUnit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	cfgPath := writeFile(t, "tollgate.yaml", fmt.Sprintf(`
server:
  address: "127.0.0.1:0"
gateway:
  upstream: %s
  debugRoutes: true
ratelimit:
  load:
    enabled: false
store:
  type: memory
  rules:
    configs:
      - {id: standard, scope: class, target: standard, rpm: 1, rph: 100, burst: 10, active: true}
`, upstream.URL))
	cfg, err := loadAppConfig(cfgPath)
	require.NoError(t, err)

	logger := logtest.NewLogger()
	unit, closeFn, err := newGatewayUnit(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()

	httpServer, ok := unit.(*service.CompositeUnit).Units[0].(*httpserver.HTTPServer)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.New(logger, unit).StartContext(ctx) }()

	port, err := testutil.WaitPortAndListeningServer("127.0.0.1", httpServer.GetPort, 5*time.Second)
	require.NoError(t, err)
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	doGet := func(path string) *http.Response {
		req, reqErr := http.NewRequest(http.MethodGet, baseURL+path, nil)
		require.NoError(t, reqErr)
		req.Header.Set("X-Identity-ID", "alice")
		resp, reqErr := http.DefaultClient.Do(req)
		require.NoError(t, reqErr)
		return resp
	}

	resp := doGet("/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp = doGet("/api/items")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	require.NoError(t, resp.Body.Close())

	resp = doGet("/api/items")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	require.NoError(t, resp.Body.Close())

	resp = doGet(httpserver.DebugWindowsPath + "?identity=alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	cancel()
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway has not been stopped")
	}
}

func TestConfigDataType(t *testing.T) {
	require.Equal(t, "json", string(configDataType("/etc/tollgate/config.JSON")))
	require.Equal(t, "yaml", string(configDataType("tollgate.yml")))
	require.Equal(t, store.TypeMemory, loadDefaultAppConfig(t).Store.Type)
}

func loadDefaultAppConfig(t *testing.T) *AppConfig {
	t.Helper()
	cfg, err := loadAppConfig("")
	require.NoError(t, err)
	return cfg
}
