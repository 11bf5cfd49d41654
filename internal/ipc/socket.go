package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"
	"time"
)

// SocketStatus is the outcome of probing a socket path at startup.
type SocketStatus int

const (
	// SocketAbsent: nothing at the path; bind freely.
	SocketAbsent SocketStatus = iota
	// SocketStale: a file exists but nothing accepts on it; safe to
	// delete and rebind.
	SocketStale
	// SocketAlive: another daemon answers on the path; startup must
	// abort.
	SocketAlive
)

// Probe checks what is living at socketPath. It never creates a file: a
// nonexistent path reports SocketAbsent without side effects.
func Probe(socketPath string, timeout time.Duration) (SocketStatus, error) {
	if _, err := os.Stat(socketPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SocketAbsent, nil
		}
		return SocketAbsent, fmt.Errorf("failed to stat socket: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return SocketStale, nil
		}
		return SocketAbsent, fmt.Errorf("failed to probe socket: %w", err)
	}
	conn.Close()
	return SocketAlive, nil
}

// RemoveStale probes the path and deletes the file when it is stale.
// A live daemon aborts with an error.
func RemoveStale(socketPath string, timeout time.Duration) error {
	status, err := Probe(socketPath, timeout)
	if err != nil {
		return err
	}
	switch status {
	case SocketStale:
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	case SocketAlive:
		return fmt.Errorf("daemon already running on %s", socketPath)
	}
	return nil
}

// SocketSecure reports whether the file at socketPath is a unix socket
// restricted to its owner (no group or other permission bits).
func SocketSecure(socketPath string) (bool, error) {
	info, err := os.Stat(socketPath)
	if err != nil {
		return false, err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return false, nil
	}
	return info.Mode().Perm()&0o077 == 0, nil
}
