package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	yaml := `
logging:
  level: debug
claude:
  model: opus
  allowed_tools: [Bash, Read]
telegram:
  allowed_chats: [123456]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched fields keep their defaults.
	if cfg.Logging.Format != "text" {
		t.Errorf("format = %q, want default text", cfg.Logging.Format)
	}
	if cfg.Claude.Binary != "claude" {
		t.Errorf("binary = %q, want default claude", cfg.Claude.Binary)
	}
	if cfg.Claude.Model != "opus" {
		t.Errorf("model = %q", cfg.Claude.Model)
	}
	if len(cfg.Claude.AllowedTools) != 2 {
		t.Errorf("allowed tools = %v", cfg.Claude.AllowedTools)
	}
	if len(cfg.Telegram.AllowedChats) != 1 || cfg.Telegram.AllowedChats[0] != 123456 {
		t.Errorf("allowed chats = %v", cfg.Telegram.AllowedChats)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("logging: [not: a: mapping")); err == nil {
		t.Error("Parse accepted invalid YAML")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CLAUDEGRAM_TEST_VALUE", "from-env")
	os.Unsetenv("CLAUDEGRAM_TEST_MISSING")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "token: ${CLAUDEGRAM_TEST_VALUE}", "token: from-env"},
		{"bare", "token: $CLAUDEGRAM_TEST_VALUE", "token: from-env"},
		{"default used", "token: ${CLAUDEGRAM_TEST_MISSING:-fallback}", "token: fallback"},
		{"default ignored", "token: ${CLAUDEGRAM_TEST_VALUE:-fallback}", "token: from-env"},
		{"missing without default", "token: ${CLAUDEGRAM_TEST_MISSING}", "token: "},
		{"no references", "token: literal", "token: literal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.in); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadFromFile_AnchorsRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
session_file: state/session.json
scheduler:
  db_path: state/jobs.db
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if want := filepath.Join(dir, "state", "session.json"); cfg.SessionFile != want {
		t.Errorf("session file = %q, want %q", cfg.SessionFile, want)
	}
	if want := filepath.Join(dir, "state", "jobs.db"); cfg.Scheduler.DBPath != want {
		t.Errorf("db path = %q, want %q", cfg.Scheduler.DBPath, want)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFromFile succeeded on a missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "config.yaml")

	cfg := Default()
	cfg.Claude.Model = "opus"
	cfg.Telegram.AllowedChats = []int64{42}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Claude.Model != "opus" {
		t.Errorf("model = %q after round trip", loaded.Claude.Model)
	}
	if len(loaded.Telegram.AllowedChats) != 1 || loaded.Telegram.AllowedChats[0] != 42 {
		t.Errorf("allowed chats = %v after round trip", loaded.Telegram.AllowedChats)
	}
}
