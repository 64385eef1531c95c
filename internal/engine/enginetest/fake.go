// Package enginetest provides a scripted engine.Runner for tests.
package enginetest

import (
	"context"
	"strings"
	"sync"

	"github.com/strongdm/devshell/internal/engine"
)

// Call records one engine invocation.
type Call struct {
	Args        []string
	Interactive bool
}

// Subcommand returns the first argument of the call.
func (c Call) Subcommand() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Fake is a Runner whose answers are supplied by the test. Unset hooks succeed
// with empty output.
type Fake struct {
	OutputFn      func(ctx context.Context, args []string) (string, error)
	InteractiveFn func(ctx context.Context, streams engine.Streams, args []string) error

	mu    sync.Mutex
	calls []Call
}

var _ engine.Runner = (*Fake)(nil)

// Output implements engine.Runner.
func (f *Fake) Output(ctx context.Context, args ...string) (string, error) {
	f.record(Call{Args: append([]string(nil), args...)})
	if f.OutputFn != nil {
		return f.OutputFn(ctx, args)
	}
	return "", nil
}

// Interactive implements engine.Runner.
func (f *Fake) Interactive(ctx context.Context, streams engine.Streams, args ...string) error {
	f.record(Call{Args: append([]string(nil), args...), Interactive: true})
	if f.InteractiveFn != nil {
		return f.InteractiveFn(ctx, streams, args)
	}
	return nil
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns a copy of every recorded invocation in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many calls used the given subcommand.
func (f *Fake) Count(subcommand string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Subcommand() == subcommand {
			n++
		}
	}
	return n
}

// Find returns the calls that used the given subcommand.
func (f *Fake) Find(subcommand string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Subcommand() == subcommand {
			out = append(out, c)
		}
	}
	return out
}

// HasArgPair reports whether flag is immediately followed by value in args.
func HasArgPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

// HasArg reports whether args contains arg.
func HasArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

// Joined renders args for failure messages.
func Joined(args []string) string {
	return strings.Join(args, " ")
}
