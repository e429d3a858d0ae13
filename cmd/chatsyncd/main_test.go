package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwinkler/chatsyncd/internal/gitsync"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()
	configContent := []byte(`repo:
  url: "https://github.com/test/chat-log.git"
paths:
  repo_dir: "` + filepath.Join(tmpDir, "repo") + `"
  db_path: "` + filepath.Join(tmpDir, "messages.db") + `"
serve:
  listen_addr: "localhost:9000"
`)

	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, configContent, 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile = configPath

	cfg, err := loadConfig(setupLogger())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Repo.URL != "https://github.com/test/chat-log.git" {
		t.Errorf("repo.url = %s", cfg.Repo.URL)
	}
	if cfg.Serve.ListenAddr != "localhost:9000" {
		t.Errorf("listen_addr = %s", cfg.Serve.ListenAddr)
	}
}

func TestLoadEnvironment_MissingCredentials(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	t.Setenv(gitsync.EnvToken, "")
	t.Setenv(gitsync.EnvRepository, "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := []byte(`repo:
  url: "https://github.com/test/chat-log.git"
paths:
  repo_dir: "` + filepath.Join(tmpDir, "repo") + `"
`)
	if err := os.WriteFile(configPath, configContent, 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile = configPath

	if _, _, err := loadEnvironment(setupLogger()); err == nil {
		t.Error("expected configuration error without git credentials")
	}
}

func TestLoadEnvironment_FromDotenv(t *testing.T) {
	origCfgFile := cfgFile
	origEnvFile := envFile
	t.Cleanup(func() {
		cfgFile = origCfgFile
		envFile = origEnvFile
	})

	// godotenv does not override existing variables, so clear them fully.
	// t.Setenv registers the restore; Unsetenv removes the empty value.
	t.Setenv(gitsync.EnvToken, "")
	t.Setenv(gitsync.EnvRepository, "")
	_ = os.Unsetenv(gitsync.EnvToken)
	_ = os.Unsetenv(gitsync.EnvRepository)

	tmpDir := t.TempDir()

	dotenv := filepath.Join(tmpDir, ".env")
	dotenvContent := []byte(gitsync.EnvToken + "=test_token\n" + gitsync.EnvRepository + "=test/repo\n")
	if err := os.WriteFile(dotenv, dotenvContent, 0o600); err != nil {
		t.Fatal(err)
	}
	envFile = dotenv

	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := []byte(`repo:
  url: "https://github.com/test/chat-log.git"
paths:
  repo_dir: "` + filepath.Join(tmpDir, "repo") + `"
`)
	if err := os.WriteFile(configPath, configContent, 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile = configPath

	_, creds, err := loadEnvironment(setupLogger())
	if err != nil {
		t.Fatalf("loadEnvironment: %v", err)
	}
	if creds.Token != "test_token" || creds.Repository != "test/repo" {
		t.Errorf("creds = %+v", creds)
	}
}
