package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwinkler/chatsyncd/internal/message"
	"github.com/cwinkler/chatsyncd/internal/metrics"
)

// messagesDirName is the subdirectory of the working copy that holds the
// serialized message files.
const messagesDirName = "messages"

// EnvToken and EnvRepository are the environment variables carrying the two
// required hosting-service credentials.
const (
	EnvToken      = "CHATSYNC_GIT_TOKEN"
	EnvRepository = "CHATSYNC_GIT_REPO"
)

// Credentials are the externally supplied secrets consumed by the git
// transport. Both fields are required; there are no defaults.
type Credentials struct {
	// Token is the hosting-service access token used for authenticated
	// pushes.
	Token string
	// Repository identifies the remote repository (e.g. "owner/name").
	Repository string
}

// CredentialsFromEnv reads both credentials from the process environment.
func CredentialsFromEnv() Credentials {
	return Credentials{
		Token:      os.Getenv(EnvToken),
		Repository: os.Getenv(EnvRepository),
	}
}

// Validate checks that both credentials are present.
func (c Credentials) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%s is not set", EnvToken)
	}
	if c.Repository == "" {
		return fmt.Errorf("%s is not set", EnvRepository)
	}
	return nil
}

// Manager persists chat messages as JSON files inside a local working copy
// and synchronizes them to the remote by shelling out to git. It holds no
// state beyond the paths it was constructed with; the filesystem and the
// repository are the only sources of truth.
type Manager struct {
	repoPath    string
	messagesDir string
	runner      Runner
	logger      *slog.Logger
}

// NewManager binds a manager to the working copy at repoPath. It fails when
// either credential is missing, and otherwise creates the messages
// subdirectory (including missing parents) if it does not already exist.
func NewManager(repoPath string, creds Credentials, runner Runner, logger *slog.Logger) (*Manager, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("git credentials: %w", err)
	}

	m := &Manager{
		repoPath:    repoPath,
		messagesDir: filepath.Join(repoPath, messagesDirName),
		runner:      runner,
		logger:      logger,
	}

	if err := os.MkdirAll(m.messagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create messages directory: %w", err)
	}

	return m, nil
}

// RepoPath returns the path of the working copy.
func (m *Manager) RepoPath() string {
	return m.repoPath
}

// MessagesDir returns the directory message files are written to.
func (m *Manager) MessagesDir() string {
	return m.messagesDir
}

// SyncMessage writes msg to the messages directory and then runs, in order:
// stage, commit, rev-parse HEAD, push. On full success it returns the
// resolved commit hash. When any git step fails the sequence stops and an
// empty hash is returned with a nil error: the file (and, past the commit
// step, the local commit) remain on disk, and the caller observes "persisted
// but not synced" purely through the empty hash. Only filesystem and
// serialization failures surface as errors.
func (m *Manager) SyncMessage(ctx context.Context, msg message.Message) (string, error) {
	name, err := msg.Filename(time.Now().UTC())
	if err != nil {
		return "", err
	}

	data, err := msg.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	path := filepath.Join(m.messagesDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write message file: %w", err)
	}

	id, _ := msg.ID()

	if res := m.runner.Run(ctx, m.repoPath, "add", path); !res.OK() {
		m.syncFailed("stage", name, res)
		return "", nil
	}

	commitMsg := fmt.Sprintf("Add message %d", id)
	if sender := msg.Sender(); sender != "" {
		commitMsg = fmt.Sprintf("Add message %d from %s", id, sender)
	}
	if res := m.runner.Run(ctx, m.repoPath, "commit", "-m", commitMsg); !res.OK() {
		m.syncFailed("commit", name, res)
		return "", nil
	}

	res := m.runner.Run(ctx, m.repoPath, "rev-parse", "HEAD")
	if !res.OK() {
		m.syncFailed("rev-parse", name, res)
		return "", nil
	}
	commit := strings.TrimSpace(res.Stdout)

	if res := m.runner.Run(ctx, m.repoPath, "push"); !res.OK() {
		// The commit stays in the local history; it is picked up by the
		// next successful push.
		m.syncFailed("push", name, res)
		return "", nil
	}

	metrics.GitSyncs.WithLabelValues("ok").Inc()
	m.logger.Info("message synced", "id", id, "file", name, "commit", commit)
	return commit, nil
}

func (m *Manager) syncFailed(step, file string, res Result) {
	metrics.GitSyncs.WithLabelValues("failed").Inc()
	m.logger.Error("git sync step failed",
		"step", step,
		"file", file,
		"exit_code", res.ExitCode,
		"stderr", strings.TrimSpace(res.Stderr))
}

// Clone clones url into path with a single git invocation. It returns true
// only when the clone exits with status 0.
func Clone(ctx context.Context, runner Runner, logger *slog.Logger, url, path string) bool {
	res := runner.Run(ctx, "", "clone", url, path)
	if !res.OK() {
		logger.Error("git clone failed",
			"url", url,
			"path", path,
			"exit_code", res.ExitCode,
			"stderr", strings.TrimSpace(res.Stderr))
		return false
	}
	logger.Info("repository cloned", "url", url, "path", path)
	return true
}

// InitRepository ensures a working copy of url exists at path and returns a
// manager bound to it. The clone is skipped when path already contains a
// .git directory. A failed clone yields a nil manager.
func InitRepository(ctx context.Context, url, path string, creds Credentials, runner Runner, logger *slog.Logger) (*Manager, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("git credentials: %w", err)
	}

	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		if !Clone(ctx, runner, logger, url, path) {
			return nil, fmt.Errorf("failed to clone %s into %s", url, path)
		}
	}

	return NewManager(path, creds, runner, logger)
}
