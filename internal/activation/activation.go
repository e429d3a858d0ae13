// Package activation implements systemd socket activation for the HTTP
// server.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Listener returns the systemd-activated listener, detected via the
// LISTEN_PID and LISTEN_FDS environment variables. It returns nil when no
// socket activation is present or the activation targets another process.
// chatsyncd serves a single socket; additional activated descriptors are an
// error.
func Listener() (net.Listener, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		// Socket activation is for a different process
		return nil, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return nil, nil
	}
	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if numFDs < 1 {
		return nil, nil
	}
	if numFDs > 1 {
		return nil, fmt.Errorf("expected exactly one activated socket, got %d", numFDs)
	}

	// Systemd passes file descriptors starting at fd 3
	// (0=stdin, 1=stdout, 2=stderr)
	const listenFD = 3

	file := os.NewFile(listenFD, "systemd-socket")
	if file == nil {
		return nil, fmt.Errorf("failed to open fd %d", listenFD)
	}

	listener, err := net.FileListener(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", listenFD, err)
	}

	// The listener duplicated the descriptor; drop ours.
	_ = file.Close()

	// Unset the environment variables so child processes don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listener, nil
}
