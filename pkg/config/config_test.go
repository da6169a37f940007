package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("expected 127.0.0.1:8080, got %s", cfg.Listen)
	}
	if cfg.Controller != "admin" {
		t.Errorf("expected admin controller, got %s", cfg.Controller)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_ADMIN_KEY", "key-123")

	content := `
listen: ":9090"
db_path: "test.db"
controller: treasury
tokens: ["0xA", "0xB"]
logging:
  env: prod
  level: debug
auth:
  api_keys:
    ${TEST_ADMIN_KEY}: treasury
events:
  db_path: events.db
  retention_days: 30
`
	path := writeConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Controller != "treasury" {
		t.Errorf("expected treasury, got %s", cfg.Controller)
	}
	if len(cfg.Tokens) != 2 || cfg.Tokens[1] != "0xB" {
		t.Errorf("unexpected tokens %v", cfg.Tokens)
	}
	if cfg.Auth.APIKeys["key-123"] != "treasury" {
		t.Errorf("env var not expanded: got %v", cfg.Auth.APIKeys)
	}
	if cfg.Logging.Env != "prod" || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.Events.RetentionDays != 30 {
		t.Errorf("expected 30 retention days, got %d", cfg.Events.RetentionDays)
	}
	if cfg.Custody.DBPath != "budgetly-custody.db" {
		t.Errorf("expected default custody path, got %s", cfg.Custody.DBPath)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BUDGETLY_TEST_CONTROLLER=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("controller: ${BUDGETLY_TEST_CONTROLLER}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("BUDGETLY_TEST_CONTROLLER") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Controller != "from-dotenv" {
		t.Errorf("expected from-dotenv, got %s", cfg.Controller)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := writeConfig(t, "controller: \"\"\ndb_path: \"\"\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"controller is required", "db_path is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
