package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cwinkler/chatsyncd/internal/config"
	"github.com/cwinkler/chatsyncd/internal/gitsync"
	"github.com/cwinkler/chatsyncd/internal/server"
	"github.com/cwinkler/chatsyncd/internal/store"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatsyncd",
	Short: "Persist chat messages and synchronize them to a Git repository",
	Long: `chatsyncd stores chat messages in a local SQLite database and mirrors each
message as a JSON file inside a Git working copy, which it commits and pushes
using the git command line tool.

It serves a small HTTP API for posting and listing messages. Remote
authentication is delegated to git itself via an access token taken from the
environment.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Clone the configured repository and create the message database",
	Long: `Init prepares the local state: it clones the configured Git repository into
the repo directory (skipped when a working copy already exists) and creates
the SQLite schema. Run it once before the first serve.`,
	RunE: runInit,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the message HTTP server",
	Long: `Serve starts the HTTP API. Messages posted to /messages are stored in SQLite
and synchronized to the Git remote; /messages also lists stored messages.
A systemd-activated socket is used when present.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chatsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/chatsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load credentials from (default is ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, creds, err := loadEnvironment(logger)
	if err != nil {
		return err
	}

	runner := gitsync.NewShellRunner(creds.Token, cfg.CommandTimeout())
	manager, err := gitsync.InitRepository(ctx, cfg.Repo.URL, cfg.Paths.RepoDir, creds, runner, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	logger.Info("repository ready", "path", manager.RepoPath())

	st, err := store.Open(cfg.Paths.DBPath, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("initialization complete", "db", cfg.Paths.DBPath)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, creds, err := loadEnvironment(logger)
	if err != nil {
		return err
	}

	runner := gitsync.NewShellRunner(creds.Token, cfg.CommandTimeout())
	manager, err := gitsync.InitRepository(ctx, cfg.Repo.URL, cfg.Paths.RepoDir, creds, runner, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}

	st, err := store.Open(cfg.Paths.DBPath, manager, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	srv := server.New(cfg.Serve.ListenAddr, st, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return err
	}

	return nil
}

// loadEnvironment loads the dotenv file, the YAML configuration and the git
// credentials, in that order, so the config file may reference variables
// from the dotenv file.
func loadEnvironment(logger *slog.Logger) (*config.Config, gitsync.Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, gitsync.Credentials{}, fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		// A missing ./.env is fine.
		_ = godotenv.Load()
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, gitsync.Credentials{}, fmt.Errorf("failed to load config: %w", err)
	}

	creds := gitsync.CredentialsFromEnv()
	if err := creds.Validate(); err != nil {
		return nil, gitsync.Credentials{}, fmt.Errorf("git credentials: %w", err)
	}

	return cfg, creds, nil
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/chatsyncd/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Repo.URL,
		"repo_dir", cfg.Paths.RepoDir,
		"db_path", cfg.Paths.DBPath,
		"listen_addr", cfg.Serve.ListenAddr)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
