package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig writes a sqlite-backed config into a temp dir and returns
// its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "motorpool.yaml")
	yaml := `database:
  driver: sqlite
  path: ` + filepath.Join(dir, "motorpool.db") + `
chat:
  platform: telegram
workflow:
  timezone: UTC
bootstrap:
  cpf: "12345678901"
  registration: INS001
  name: Chief
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// run executes the root command with args and returns its output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// initDB runs "mp db init" against a fresh config.
func initDB(t *testing.T) string {
	t.Helper()
	cfg := writeTestConfig(t)
	if out, err := run(t, "", "db", "init", "-c", cfg); err != nil {
		t.Fatalf("db init: %v\n%s", err, out)
	}
	return cfg
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "mp dev") {
		t.Errorf("expected output to contain 'mp dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "mp 1.0.0") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := run(t, "", "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	for _, sub := range []string{"serve", "dashboard", "vehicle", "request", "user", "db"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q, got: %s", sub, out)
		}
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"request", "show"})
	if code := execute(cmd); code != 1 {
		t.Errorf("execute = %d, want 1 for missing argument", code)
	}
}

func TestServe_MissingConfig(t *testing.T) {
	_, err := run(t, "", "serve", "-c", "/nonexistent/motorpool.yaml")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v, want load config error", err)
	}
}

func TestServe_MissingChatToken(t *testing.T) {
	cfg := initDB(t)
	t.Setenv("MOTORPOOL_TELEGRAM_TOKEN", "")
	_, err := run(t, "", "serve", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "token is required") {
		t.Errorf("err = %v, want token error", err)
	}
}
