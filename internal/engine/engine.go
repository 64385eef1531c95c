// Package engine runs the fixed vocabulary of container engine subcommands the
// orchestrator relies on. Everything engine-specific stays behind Runner; the
// rest of devshell only sees command output and exit status.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/strongdm/devshell/internal/telemetry/otel"
)

// ProbeTimeout bounds the initial availability check. Later calls (pull,
// attach) may block indefinitely.
const ProbeTimeout = 10 * time.Second

// InterruptGrace is how long an interactive command has to exit after it is
// sent an interrupt before it is killed.
const InterruptGrace = 5 * time.Second

// Handle identifies a container created by the launcher or chosen by discovery.
type Handle struct {
	ID string
}

func (h Handle) String() string {
	return h.ID
}

// Streams are the caller's terminal streams handed to interactive commands.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdStreams returns the process's own stdio.
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// Runner executes engine subcommands.
type Runner interface {
	// Output runs a subcommand and returns its standard output. A non-zero
	// exit yields a *CommandError carrying stderr.
	Output(ctx context.Context, args ...string) (string, error)

	// Interactive runs a subcommand wired to the given streams and blocks
	// until it exits.
	Interactive(ctx context.Context, streams Streams, args ...string) error
}

var vocabulary = map[string]struct{}{
	"info":     {},
	"inspect":  {},
	"image":    {},
	"manifest": {},
	"ps":       {},
	"create":   {},
	"run":      {},
	"start":    {},
	"attach":   {},
	"exec":     {},
	"logs":     {},
	"stop":     {},
	"pull":     {},
}

// DockerRunner implements Runner on top of the docker CLI.
type DockerRunner struct {
	// Binary defaults to "docker" resolved through PATH.
	Binary      string
	Instruments *otel.CommandInstruments
	Logger      *log.Logger
	Verbose     bool
}

var _ Runner = (*DockerRunner)(nil)

func (d *DockerRunner) binary() string {
	if d == nil || strings.TrimSpace(d.Binary) == "" {
		return "docker"
	}
	return d.Binary
}

func (d *DockerRunner) debugf(format string, args ...interface{}) {
	if d.Verbose && d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// Probe checks that the engine binary exists and the daemon answers `info`
// within ProbeTimeout.
func (d *DockerRunner) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(d.binary()); err != nil {
		return ErrNotInstalled
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, d.binary(), "info")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	err := d.instrument(probeCtx, []string{"info"}, cmd.Run)
	if err == nil {
		return nil
	}
	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		return ErrNotResponding
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrNotRunning, err)
}

// Output implements Runner.
func (d *DockerRunner) Output(ctx context.Context, args ...string) (string, error) {
	if err := checkVocabulary(args); err != nil {
		return "", err
	}
	d.debugf("docker %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, d.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := d.instrument(ctx, args, cmd.Run); err != nil {
		return stdout.String(), &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// Interactive implements Runner.
func (d *DockerRunner) Interactive(ctx context.Context, streams Streams, args ...string) error {
	if err := checkVocabulary(args); err != nil {
		return err
	}
	d.debugf("docker %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, d.binary(), args...)
	interruptOnCancel(cmd)
	cmd.Stdin = streams.In
	cmd.Stdout = streams.Out
	cmd.Stderr = streams.Err
	if err := d.instrument(ctx, args, cmd.Run); err != nil {
		return &CommandError{Args: args, Err: err}
	}
	return nil
}

// interruptOnCancel lets docker attach and exec detach cleanly when ctx ends,
// rather than being killed outright.
func interruptOnCancel(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = InterruptGrace
}

func (d *DockerRunner) instrument(ctx context.Context, args []string, run func() error) error {
	if d == nil || d.Instruments == nil {
		return run()
	}
	info := otel.CommandInfo{Kind: otel.KindEngine}
	if len(args) > 0 {
		info.Operation = args[0]
	}
	h, _ := d.Instruments.Start(ctx, info)
	err := run()
	d.Instruments.Finish(h, err)
	return err
}

func checkVocabulary(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: empty command", ErrUnsupportedCommand)
	}
	if _, ok := vocabulary[args[0]]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, args[0])
	}
	return nil
}
