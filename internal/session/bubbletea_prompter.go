package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/strongdm/devshell/internal/discovery"
	"github.com/strongdm/devshell/internal/registry"
	"golang.org/x/term"
)

const (
	cardWidth = 64
	// Two columns of padding on each side of the card body.
	cardInnerWidth = cardWidth - 4
)

type bubbleTeaPrompter struct {
	in       io.Reader
	out      io.Writer
	theme    cardTheme
	fallback Prompter
}

func newBubbleTeaPrompter(in io.Reader, out io.Writer) *bubbleTeaPrompter {
	return &bubbleTeaPrompter{
		in:       in,
		out:      out,
		theme:    newCardTheme(supportsColor(out)),
		fallback: newTerminalPrompter(in, out),
	}
}

func (p *bubbleTeaPrompter) ConfirmLogin(ctx context.Context, rec discovery.Record) (bool, error) {
	rows := [][2]string{
		{"Image", rec.Image},
		{"Created", rec.RunningFor},
		{"Status", rec.Status},
	}
	if len(rec.Mounts) > 0 {
		rows = append(rows, [2]string{"Mounts", discovery.JoinMounts(rec.Mounts)})
	}
	model := newConfirmModel(p.theme, "Log into this container?", rows)
	answer, err := p.run(ctx, model)
	if errors.Is(err, ErrInterrupted) {
		return false, err
	}
	if err != nil {
		return p.fallback.ConfirmLogin(ctx, rec)
	}
	return answer, nil
}

func (p *bubbleTeaPrompter) ConfirmPull(ctx context.Context, ref registry.Reference) (bool, error) {
	model := newConfirmModel(p.theme, "Pull the latest image?", [][2]string{
		{"Image", ref.String()},
		{"Reason", "the local copy may be out of date"},
	})
	answer, err := p.run(ctx, model)
	if errors.Is(err, ErrInterrupted) {
		return false, err
	}
	if err != nil {
		return p.fallback.ConfirmPull(ctx, ref)
	}
	return answer, nil
}

func (p *bubbleTeaPrompter) run(ctx context.Context, model *confirmModel) (bool, error) {
	restore := normalizeTERMForBubbleTea()
	defer restore()

	prog := tea.NewProgram(model, tea.WithInput(p.in), tea.WithOutput(p.out), tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		return false, err
	}
	m, ok := final.(*confirmModel)
	if !ok || !m.done {
		return false, fmt.Errorf("prompt closed without an answer")
	}
	if m.interrupted {
		return false, ErrInterrupted
	}
	return m.answer, nil
}

type cardTheme struct {
	color        bool
	accentColor  lipgloss.Color
	title        lipgloss.Style
	label        lipgloss.Style
	value        lipgloss.Style
	option       lipgloss.Style
	optionActive lipgloss.Style
	help         lipgloss.Style
	key          lipgloss.Style
}

func newCardTheme(color bool) cardTheme {
	if !color {
		return cardTheme{
			title:        lipgloss.NewStyle().Bold(true),
			label:        lipgloss.NewStyle().Faint(true),
			value:        lipgloss.NewStyle(),
			option:       lipgloss.NewStyle().PaddingLeft(2),
			optionActive: lipgloss.NewStyle().PaddingLeft(2).Bold(true),
			help:         lipgloss.NewStyle().Faint(true),
			key:          lipgloss.NewStyle().Bold(true),
		}
	}

	accent := lipgloss.Color("#58d4ff")
	return cardTheme{
		color:        true,
		accentColor:  accent,
		title:        lipgloss.NewStyle().Foreground(accent).Bold(true),
		label:        lipgloss.NewStyle().Faint(true),
		value:        lipgloss.NewStyle().Foreground(accent).Bold(true),
		option:       lipgloss.NewStyle().PaddingLeft(2),
		optionActive: lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("#0b1215")).Background(accent).Bold(true),
		help:         lipgloss.NewStyle().Faint(true),
		key:          lipgloss.NewStyle().Foreground(accent).Bold(true),
	}
}

type confirmModel struct {
	theme    cardTheme
	question string
	rows     [][2]string

	cursor int // 0 = yes, 1 = no
	answer bool
	done   bool

	// interrupted is set by ctrl+c, which raw mode delivers as a key rather
	// than as SIGINT.
	interrupted bool
}

func newConfirmModel(theme cardTheme, question string, rows [][2]string) *confirmModel {
	return &confirmModel{theme: theme, question: question, rows: rows}
}

func (m *confirmModel) Init() tea.Cmd {
	return nil
}

func (m *confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch strings.ToLower(key.String()) {
	case "ctrl+c":
		m.finish(false)
		m.interrupted = true
		return m, tea.Quit
	case "esc", "n":
		m.finish(false)
		return m, tea.Quit
	case "y":
		m.finish(true)
		return m, tea.Quit
	case "enter":
		m.finish(m.cursor == 0)
		return m, tea.Quit
	case "left", "up", "h", "k":
		m.cursor = 0
	case "right", "down", "l", "j", "tab":
		m.cursor = 1
	}
	return m, nil
}

func (m *confirmModel) finish(answer bool) {
	m.answer = answer
	m.done = true
}

func (m *confirmModel) View() string {
	if m.done {
		return ""
	}

	body := []string{m.theme.title.Render(m.question), ""}
	for _, row := range m.rows {
		body = append(body, fmt.Sprintf("%s %s", m.theme.label.Render(fmt.Sprintf("%-8s:", row[0])), m.theme.value.Render(row[1])))
	}
	body = append(body, "")

	for i, label := range []string{"Yes", "No"} {
		if i == m.cursor {
			body = append(body, m.theme.optionActive.Render(" "+label+" "))
		} else {
			body = append(body, m.theme.option.Render(label))
		}
	}
	body = append(body, "", m.theme.help.Render(fmt.Sprintf("Enter selects; %s or %s answers directly.", m.theme.key.Render("y"), m.theme.key.Render("n"))))

	content := lipgloss.NewStyle().Width(cardInnerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, body...))
	lines := strings.Split(content, "\n")

	card := make([]string, 0, len(lines)+2)
	card = append(card, m.borderLine("╭", "╮"))
	for _, line := range lines {
		card = append(card, m.contentLine(line))
	}
	card = append(card, m.borderLine("╰", "╯"))
	return "\n" + strings.Join(card, "\n") + "\n"
}

func (m *confirmModel) borderLine(left, right string) string {
	line := left + strings.Repeat("─", cardWidth) + right
	if m.theme.color {
		return lipgloss.NewStyle().Foreground(m.theme.accentColor).Render(line)
	}
	return line
}

func (m *confirmModel) contentLine(inner string) string {
	if width := lipgloss.Width(inner); width < cardInnerWidth {
		inner += strings.Repeat(" ", cardInnerWidth-width)
	}
	border := "│"
	if m.theme.color {
		border = lipgloss.NewStyle().Foreground(m.theme.accentColor).Render("│")
	}
	return border + "  " + inner + "  " + border
}

func canUseBubbleTea(in io.Reader, out io.Writer) bool {
	type fd interface {
		Fd() uintptr
	}
	fin, okIn := in.(fd)
	fout, okOut := out.(fd)
	if !okIn || !okOut {
		return false
	}
	return term.IsTerminal(int(fin.Fd())) && term.IsTerminal(int(fout.Fd()))
}
