package gitsync

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// DefaultCommandTimeout bounds a single git invocation. The upstream design
// ran unbounded; a remote hanging mid-push would block the caller forever,
// so every invocation gets a deadline unless configured otherwise.
const DefaultCommandTimeout = 60 * time.Second

// Result captures the complete outcome of one external command invocation.
// A non-zero exit code is a normal, reportable outcome, not an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited successfully.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner executes a single git command rooted at dir and returns its exit
// code and captured output. Implementations must consume the process output
// fully before returning and must never treat a non-zero exit as an error.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) Result
}

// ShellRunner implements Runner by shelling out to the git binary.
type ShellRunner struct {
	token   string
	timeout time.Duration
}

// NewShellRunner creates a runner for the git command. When token is
// non-empty, HTTPS operations authenticate through a git credential helper
// that reads the token from the process environment; git never sees it on
// the command line. A timeout of zero falls back to DefaultCommandTimeout.
func NewShellRunner(token string, timeout time.Duration) *ShellRunner {
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	return &ShellRunner{token: token, timeout: timeout}
}

// tokenHelper makes git ask the environment for the access token instead of
// prompting. The x-access-token username is what GitHub expects for
// token-authenticated HTTPS pushes.
const tokenHelper = `credential.helper=!f() { echo "username=x-access-token"; echo "password=$CHATSYNCD_GIT_TOKEN"; }; f`

// Run executes git with the given arguments in dir. An empty dir runs the
// command in the current working directory (used by clone, which creates
// its own target). Failure to spawn the process at all is reported as exit
// code 1 with the spawn error on stderr.
func (r *ShellRunner) Run(ctx context.Context, dir string, args ...string) Result {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	full := args
	if r.token != "" {
		full = append([]string{"-c", tokenHelper}, args...)
	}

	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	if r.token != "" {
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0", "CHATSYNCD_GIT_TOKEN="+r.token)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
			res.Stderr = err.Error()
		}
	}
	return res
}
