package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/strongdm/devshell/internal/discovery"
	"github.com/strongdm/devshell/internal/registry"
	"golang.org/x/term"
)

type terminalPrompter struct {
	in          *bufio.Reader
	out         io.Writer
	color       bool
	accentColor string
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{
		in:          bufio.NewReader(in),
		out:         out,
		color:       supportsColor(out),
		accentColor: "\033[38;5;205m",
	}
}

func (p *terminalPrompter) ConfirmLogin(ctx context.Context, rec discovery.Record) (bool, error) {
	return p.ask(ctx, LoginQuestion(rec))
}

func (p *terminalPrompter) ConfirmPull(ctx context.Context, ref registry.Reference) (bool, error) {
	return p.ask(ctx, PullQuestion(ref))
}

// ask reads a single answer. Anything other than blank, y or yes declines;
// there is no re-prompt.
func (p *terminalPrompter) ask(ctx context.Context, question string) (bool, error) {
	if _, err := fmt.Fprint(p.out, p.promptArrow()+" "+p.bold(question)); err != nil {
		return false, err
	}
	type answer struct {
		line string
		err  error
	}
	// The read cannot be cancelled; an interrupt abandons it instead.
	ch := make(chan answer, 1)
	go func() {
		line, err := p.readLine()
		ch <- answer{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return false, a.err
		}
		return IsAffirmative(a.line), nil
	}
}

func (p *terminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if err == io.EOF && line == "" {
		return "", io.EOF
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *terminalPrompter) accent(text string) string {
	return p.wrap(p.accentColor, text)
}

func (p *terminalPrompter) bold(text string) string {
	return p.wrap("\033[1m", text)
}

func (p *terminalPrompter) promptArrow() string {
	if p.color {
		return p.accent("›")
	}
	return ">"
}

func (p *terminalPrompter) wrap(code, text string) string {
	if !p.color || code == "" {
		return text
	}
	return code + text + "\033[0m"
}

func supportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	type fd interface {
		Fd() uintptr
	}
	f, ok := w.(fd)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
