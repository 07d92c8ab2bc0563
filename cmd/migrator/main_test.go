package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"db_path_migrator/internal/config"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// writeConfig points the CLI at a fresh sqlite database. migrationsDir may be
// empty to use the embedded migrations; extra is appended verbatim.
func writeConfig(t *testing.T, migrationsDir string, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`database:
  provider: sqlite
  dsn: %q
log:
  level: error
`, filepath.Join(dir, "app.db"))
	if migrationsDir != "" {
		content += fmt.Sprintf("migrations_dir: %q\n", migrationsDir)
	}
	content += strings.Join(extra, "")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

const allPending = `Migrations already run:
  None
Migrations left to run:
  - 001_create_accounts
  - 002_add_accounts_display_name
  - 003_create_audit_events
`

func TestStatusOnFreshDatabase(t *testing.T) {
	cfg := writeConfig(t, "")

	res := runCLI(t, "", "status", "-config", cfg)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, allPending, res.stdout)
}

func TestMigrateThenRollback(t *testing.T) {
	cfg := writeConfig(t, "")

	res := runCLI(t, "", "migrate", "-config", cfg)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Migrations already run:\n")
	for _, name := range []string{"001_create_accounts", "002_add_accounts_display_name", "003_create_audit_events"} {
		assert.Contains(t, res.stdout, "  - "+name+"\n")
	}
	assert.True(t, strings.HasSuffix(res.stdout, "Migrations left to run:\n  None\n"), res.stdout)

	res = runCLI(t, "", "rollback", "-config", cfg, "-approve")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, `Migrations already run:
  - 003_create_audit_events
Migrations left to run:
  - 001_create_accounts
  - 002_add_accounts_display_name
`, res.stdout)
}

func TestRollbackPrompt(t *testing.T) {
	cfg := writeConfig(t, "")
	require.Equal(t, 0, runCLI(t, "", "migrate", "-config", cfg).code)

	res := runCLI(t, "no\n", "rollback", "-config", cfg)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error: aborted by user")

	res = runCLI(t, "YES\n", "rollback", "-config", cfg)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Type YES to proceed: ")
	assert.Contains(t, res.stdout, "  - 001_create_accounts\n")
}

func TestRollbackRefusedForForwardOnlyPath(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_seed.sql": "CREATE TABLE seed (id INTEGER);",
	})
	cfg := writeConfig(t, dir)

	res := runCLI(t, "", "rollback", "-config", cfg, "-approve")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "rollback unavailable")
	assert.Empty(t, res.stdout)
}

func TestMigrateFailureReportsErrorInsteadOfStatus(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_a.up.sql":   "CREATE TABLE a (id INTEGER);",
		"001_a.down.sql": "DROP TABLE a;",
		"002_b.up.sql":   "INSERT INTO missing_table VALUES (1);",
		"002_b.down.sql": "SELECT 1;",
	})
	cfg := writeConfig(t, dir)

	res := runCLI(t, "", "migrate", "-config", cfg)
	assert.Equal(t, 1, res.code)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, `error: step "002_b"`)

	res = runCLI(t, "", "status", "-config", cfg)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, `Migrations already run:
  None
Migrations left to run:
  - 001_a
  - 002_b
`, res.stdout)
}

func TestIrreversibleRollbackLeavesLedger(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_a.up.sql":   "CREATE TABLE a (id INTEGER);",
		"001_a.down.sql": "DROP TABLE a;",
		"002_b.sql":      "CREATE TABLE b (id INTEGER);",
	})
	cfg := writeConfig(t, dir)
	require.Equal(t, 0, runCLI(t, "", "migrate", "-config", cfg).code)

	res := runCLI(t, "", "rollback", "-config", cfg, "-approve")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "no backward action")

	res = runCLI(t, "", "status", "-config", cfg)
	assert.Contains(t, res.stdout, "  - 001_a\n")
	assert.Contains(t, res.stdout, "  - 002_b\n")
}

func TestInvalidMigrationDirectory(t *testing.T) {
	dir := writeMigrations(t, map[string]string{"bad.sql": "SELECT 1;"})
	cfg := writeConfig(t, dir)

	res := runCLI(t, "", "status", "-config", cfg)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "invalid migration file")
}

func TestUsage(t *testing.T) {
	res := runCLI(t, "")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, "db_path_migrator commands:")

	res = runCLI(t, "", "frobnicate")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "unknown command frobnicate")
	for _, verb := range []string{"status", "migrate", "rollback"} {
		assert.Contains(t, res.stderr, verb)
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	res := runCLI(t, "", "init-config", "-path", path, "-provider", "sqlite", "-dsn", filepath.Join(t.TempDir(), "x.db"))
	require.Equal(t, 0, res.code, res.stderr)
	assert.FileExists(t, path)

	res = runCLI(t, "", "status", "-config", path)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, allPending, res.stdout)

	res = runCLI(t, "", "init-config", "-path", path)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "already exists")
}

func TestMissingDSN(t *testing.T) {
	t.Setenv("MIGRATOR_DB_DSN", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  provider: sqlite\n"), 0o644))

	res := runCLI(t, "", "status", "-config", path)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "dsn")
}

type pushedRequest struct {
	method string
	path   string
	body   string
}

func newPushgateway(t *testing.T) (string, <-chan pushedRequest) {
	t.Helper()
	pushes := make(chan pushedRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		pushes <- pushedRequest{method: r.Method, path: r.URL.Path, body: string(body)}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv.URL, pushes
}

func TestMigrateAndRollbackPushRunMetrics(t *testing.T) {
	url, pushes := newPushgateway(t)
	cfg := writeConfig(t, "", fmt.Sprintf("metrics:\n  push_url: %q\n  job: deploy\n", url))

	res := runCLI(t, "", "migrate", "-config", cfg)
	require.Equal(t, 0, res.code, res.stderr)
	require.Len(t, pushes, 1)
	push := <-pushes
	assert.Equal(t, http.MethodPut, push.method)
	assert.Equal(t, "/metrics/job/deploy", push.path)
	assert.Contains(t, push.body, "migrator_runs_total")
	assert.Contains(t, push.body, "committed")

	res = runCLI(t, "", "rollback", "-config", cfg, "-approve")
	require.Equal(t, 0, res.code, res.stderr)
	require.Len(t, pushes, 1)
	assert.Contains(t, (<-pushes).body, "migrator_steps_total")

	res = runCLI(t, "", "status", "-config", cfg)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Empty(t, pushes)
}

func TestFailedMigratePushesMetrics(t *testing.T) {
	url, pushes := newPushgateway(t)
	dir := writeMigrations(t, map[string]string{
		"001_bad.sql": "INSERT INTO missing_table VALUES (1);",
	})
	cfg := writeConfig(t, dir, fmt.Sprintf("metrics:\n  push_url: %q\n", url))

	res := runCLI(t, "", "migrate", "-config", cfg)
	assert.Equal(t, 1, res.code)
	require.Len(t, pushes, 1)
	push := <-pushes
	assert.Equal(t, "/metrics/job/"+config.DefaultMetricsJob, push.path)
	assert.Contains(t, push.body, "failed")
}

func TestUnreachablePushgatewayKeepsExitCode(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	cfg := writeConfig(t, "", fmt.Sprintf("metrics:\n  push_url: %q\n", url))

	res := runCLI(t, "", "migrate", "-config", cfg)
	require.Equal(t, 0, res.code, res.stderr)
	assert.True(t, strings.HasSuffix(res.stdout, "Migrations left to run:\n  None\n"), res.stdout)
}

func TestInitConfigDefaultDSNFollowsProvider(t *testing.T) {
	for provider, want := range map[string]string{
		"postgres": config.DefaultDSN("postgres"),
		"mysql":    config.DefaultDSN("mysql"),
		"sqlite":   "app.db",
	} {
		t.Run(provider, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			res := runCLI(t, "", "init-config", "-path", path, "-provider", provider)
			require.Equal(t, 0, res.code, res.stderr)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			var cfg config.Config
			require.NoError(t, yaml.Unmarshal(data, &cfg))
			assert.Equal(t, provider, cfg.Database.Provider)
			assert.Equal(t, want, cfg.Database.DSN)
		})
	}
}
