package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatsyncd configuration
type Config struct {
	Repo  RepoConfig  `yaml:"repo"`
	Paths PathsConfig `yaml:"paths"`
	Sync  SyncConfig  `yaml:"sync"`
	Serve ServeConfig `yaml:"serve"`
}

// RepoConfig configures the Git repository messages are synchronized to
type RepoConfig struct {
	URL string `yaml:"url"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	RepoDir string `yaml:"repo_dir"`
	DBPath  string `yaml:"db_path"`
}

// SyncConfig configures git command execution
type SyncConfig struct {
	CommandTimeout Duration `yaml:"command_timeout"`
}

// ServeConfig configures the HTTP server
type ServeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "60s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv expands environment variables in string fields.
func (c *Config) expandEnv() {
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Paths.RepoDir = os.ExpandEnv(c.Paths.RepoDir)
	c.Paths.DBPath = os.ExpandEnv(c.Paths.DBPath)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Sync.CommandTimeout == 0 {
		c.Sync.CommandTimeout = Duration(60 * time.Second)
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = "localhost:8000"
	}
	if c.Paths.DBPath == "" && c.Paths.RepoDir != "" {
		c.Paths.DBPath = filepath.Join(filepath.Dir(c.Paths.RepoDir), "messages.db")
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Repo.URL == "" {
		return fmt.Errorf("repo.url is required")
	}

	if c.Paths.RepoDir == "" {
		return fmt.Errorf("paths.repo_dir is required")
	}
	if !filepath.IsAbs(c.Paths.RepoDir) {
		return fmt.Errorf("paths.repo_dir must be an absolute path: %s", c.Paths.RepoDir)
	}
	if !filepath.IsAbs(c.Paths.DBPath) {
		return fmt.Errorf("paths.db_path must be an absolute path: %s", c.Paths.DBPath)
	}

	if c.Sync.CommandTimeout < 0 {
		return fmt.Errorf("sync.command_timeout must not be negative")
	}

	return nil
}

// CommandTimeout returns the configured git command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Sync.CommandTimeout)
}
