package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/strongdm/devshell/internal/discovery"
	"github.com/strongdm/devshell/internal/registry"
)

func TestIsAffirmative(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  ", "y", "Y", "yes", " YES ", "Yes\t"} {
		if !IsAffirmative(in) {
			t.Fatalf("IsAffirmative(%q) = false", in)
		}
	}
	for _, in := range []string{"n", "no", "yess", "ye", "sure", "y y"} {
		if IsAffirmative(in) {
			t.Fatalf("IsAffirmative(%q) = true", in)
		}
	}
}

func TestLoginQuestion(t *testing.T) {
	t.Parallel()

	rec := discovery.Record{Image: "cs50/cli", RunningFor: "2 hours ago", Status: "up 2 hours", Mounts: []string{"/a", "/b", "/c"}}
	want := "Log into cs50/cli, created 2 hours ago, up 2 hours, with /a, /b, and /c mounted? [Y] "
	if got := LoginQuestion(rec); got != want {
		t.Fatalf("LoginQuestion = %q, want %q", got, want)
	}
	rec.Mounts = nil
	if got := LoginQuestion(rec); got != "Log into cs50/cli, created 2 hours ago, up 2 hours,? [Y] " {
		t.Fatalf("LoginQuestion without mounts = %q", got)
	}
}

func TestTerminalPrompterConfirmLogin(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := newTerminalPrompter(strings.NewReader("\nno\n"), &out)
	rec := discovery.Record{Image: "img", RunningFor: "now", Status: "up"}

	ok, err := p.ConfirmLogin(context.Background(), rec)
	if err != nil || !ok {
		t.Fatalf("blank answer: ok=%v err=%v", ok, err)
	}
	ok, err = p.ConfirmLogin(context.Background(), rec)
	if err != nil || ok {
		t.Fatalf("no answer: ok=%v err=%v", ok, err)
	}
	if strings.Count(out.String(), "Log into img") != 2 {
		t.Fatalf("expected the question twice, got %q", out.String())
	}
	if strings.Contains(out.String(), "\033[") {
		t.Fatalf("non-terminal output must not be colored: %q", out.String())
	}

	if _, err := p.ConfirmLogin(context.Background(), rec); !errors.Is(err, io.EOF) {
		t.Fatalf("exhausted input should report io.EOF, got %v", err)
	}
}

func TestTerminalPrompterConfirmPull(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := newTerminalPrompter(strings.NewReader("yes"), &out)
	ok, err := p.ConfirmPull(context.Background(), registry.Reference{Repository: "cs50/cli", Tag: "latest"})
	if err != nil || !ok {
		t.Fatalf("ConfirmPull = %v, %v", ok, err)
	}
	if !strings.Contains(out.String(), "cs50/cli:latest") {
		t.Fatalf("question should name the image: %q", out.String())
	}
}

func TestTerminalPrompterInterrupted(t *testing.T) {
	t.Parallel()

	in, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTerminalPrompter(in, &bytes.Buffer{})
	if _, err := p.ConfirmPull(ctx, registry.Reference{Repository: "cs50/cli", Tag: "latest"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("ConfirmPull on a cancelled context = %v, want context.Canceled", err)
	}
}

func TestNewPrompterWithoutTerminal(t *testing.T) {
	t.Parallel()

	if _, ok := NewPrompter(strings.NewReader(""), &bytes.Buffer{}).(*terminalPrompter); !ok {
		t.Fatal("non-terminal streams should get the line-based prompter")
	}
}

func TestConfirmModelKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		keys []tea.KeyMsg
		want bool

		// interrupted answers are never read as a decline.
		interrupted bool
	}{
		{name: "enterDefaultsYes", keys: []tea.KeyMsg{{Type: tea.KeyEnter}}, want: true},
		{name: "moveThenEnter", keys: []tea.KeyMsg{{Type: tea.KeyRight}, {Type: tea.KeyEnter}}, want: false},
		{name: "n", keys: []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune("n")}}, want: false},
		{name: "y", keys: []tea.KeyMsg{{Type: tea.KeyRight}, {Type: tea.KeyRunes, Runes: []rune("y")}}, want: true},
		{name: "esc", keys: []tea.KeyMsg{{Type: tea.KeyEsc}}, want: false},
		{name: "ctrlC", keys: []tea.KeyMsg{{Type: tea.KeyCtrlC}}, want: false, interrupted: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newConfirmModel(newCardTheme(false), "Pull?", nil)
			for _, k := range tt.keys {
				m.Update(k)
			}
			if !m.done {
				t.Fatal("model did not finish")
			}
			if m.answer != tt.want {
				t.Fatalf("answer = %v, want %v", m.answer, tt.want)
			}
			if m.interrupted != tt.interrupted {
				t.Fatalf("interrupted = %v, want %v", m.interrupted, tt.interrupted)
			}
		})
	}
}

func TestConfirmModelView(t *testing.T) {
	t.Parallel()

	for _, color := range []bool{false, true} {
		m := newConfirmModel(newCardTheme(color), "Log into this container?", [][2]string{{"Image", "cs50/cli"}, {"Mounts", "/a and /b"}})
		view := m.View()
		for _, want := range []string{"Log into this container?", "cs50/cli", "/a and /b", "Yes", "No"} {
			if !strings.Contains(view, want) {
				t.Fatalf("color=%v view missing %q:\n%s", color, want, view)
			}
		}
		lines := strings.Split(strings.Trim(view, "\n"), "\n")
		if !strings.Contains(lines[0], "╭") || !strings.Contains(lines[len(lines)-1], "╰") {
			t.Fatalf("view is not framed:\n%s", view)
		}
	}
}
