package engine

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotInstalled is returned when the engine binary cannot be found on PATH.
var ErrNotInstalled = errors.New("docker not installed")

// ErrNotRunning is returned when the engine binary exists but the daemon cannot be reached.
var ErrNotRunning = errors.New("docker not running")

// ErrNotResponding is returned when the availability probe exceeds its deadline.
var ErrNotResponding = errors.New("docker not responding")

// ErrUnsupportedCommand is returned for subcommands outside the engine vocabulary.
var ErrUnsupportedCommand = errors.New("unsupported engine command")

// CommandError describes a failed engine invocation. Stderr holds whatever the
// engine printed so callers can classify failures (e.g. port conflicts).
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg != "" {
		return fmt.Sprintf("docker %s: %v: %s", strings.Join(e.Args, " "), e.Err, msg)
	}
	return fmt.Sprintf("docker %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode reports the engine's exit status, or -1 when the process never ran
// to completion.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// IsNoSuchObject reports whether err is the engine's "not found" answer for an
// image or container lookup.
func IsNoSuchObject(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such object") ||
		strings.Contains(msg, "no such image") ||
		strings.Contains(msg, "no such container")
}

// IsPortConflict reports whether err came from a host port that is already bound.
func IsPortConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "port is already allocated"):
		return true
	case strings.Contains(msg, "bind: address already in use"):
		return true
	case strings.Contains(msg, "address already in use"):
		return true
	case strings.Contains(msg, "port is already in use"):
		return true
	default:
		return false
	}
}
