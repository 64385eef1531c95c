// Package session hands the caller's terminal to a running container, either
// by attaching to its main process or by opening a login shell next to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/strongdm/devshell/internal/engine"
	"golang.org/x/term"
)

const (
	fallbackColumns = 80
	fallbackLines   = 24
)

// LoginShell is executed by Login.
var LoginShell = []string{"bash", "--login"}

// Session drives the interactive phase for one container.
type Session struct {
	Engine  engine.Runner
	Streams engine.Streams
	Logger  *log.Logger
	Verbose bool

	// TermSize reports the caller's terminal size; nil reads it from
	// Streams.Out, falling back to 80x24.
	TermSize func() (columns, lines int)
	// Interrupts scopes interrupt handling to the interactive call; nil
	// uses signal.NotifyContext for os.Interrupt.
	Interrupts func(parent context.Context) (context.Context, context.CancelFunc)
}

// Attach replays what the container has printed so far and then attaches the
// caller's streams to it. An interrupt ends the session with exit code 0.
func (s *Session) Attach(ctx context.Context, h engine.Handle) (int, error) {
	logs, err := s.Engine.Output(ctx, "logs", h.ID)
	if err != nil {
		return 1, fmt.Errorf("read logs of %s: %w", h.ID, err)
	}
	if _, err := fmt.Fprint(s.out(), logs); err != nil {
		s.debugf("failed to replay logs: %v", err)
	}
	return s.interactive(ctx, "attach", h.ID)
}

// Login opens a new login shell inside h. The terminal size is sampled once
// and passed through COLUMNS and LINES.
func (s *Session) Login(ctx context.Context, h engine.Handle) (int, error) {
	columns, lines := s.termSize()
	args := []string{
		"exec",
		"--env", "COLUMNS=" + strconv.Itoa(columns),
		"--env", "LINES=" + strconv.Itoa(lines),
		"--interactive",
		"--tty",
		h.ID,
	}
	args = append(args, LoginShell...)
	return s.interactive(ctx, args...)
}

func (s *Session) interactive(ctx context.Context, args ...string) (int, error) {
	notify := s.Interrupts
	if notify == nil {
		notify = func(parent context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(parent, os.Interrupt)
		}
	}
	phaseCtx, stop := notify(ctx)
	defer stop()

	err := s.Engine.Interactive(phaseCtx, s.Streams, args...)
	if phaseCtx.Err() != nil && ctx.Err() == nil {
		fmt.Fprintln(s.out())
		return 0, nil
	}
	if err == nil {
		return 0, nil
	}

	var cmdErr *engine.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode() > 0 {
		// The remote process ran and exited non-zero; that is its result, not
		// an engine failure.
		return cmdErr.ExitCode(), nil
	}
	return 1, fmt.Errorf("docker %s: %w", args[0], err)
}

func (s *Session) termSize() (int, int) {
	if s.TermSize != nil {
		columns, lines := s.TermSize()
		if columns > 0 && lines > 0 {
			return columns, lines
		}
		return fallbackColumns, fallbackLines
	}
	type fd interface {
		Fd() uintptr
	}
	if f, ok := s.Streams.Out.(fd); ok {
		if columns, lines, err := term.GetSize(int(f.Fd())); err == nil && columns > 0 && lines > 0 {
			return columns, lines
		}
	}
	return fallbackColumns, fallbackLines
}

func (s *Session) out() io.Writer {
	if s.Streams.Out == nil {
		return io.Discard
	}
	return s.Streams.Out
}

func (s *Session) debugf(format string, args ...interface{}) {
	if s.Verbose && s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
