package session

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/strongdm/devshell/internal/discovery"
	"github.com/strongdm/devshell/internal/registry"
)

// ErrInterrupted is returned when the user interrupts a prompt. It matches
// context.Canceled so callers can treat it like a cancelled run.
var ErrInterrupted = fmt.Errorf("prompt interrupted: %w", context.Canceled)

// Prompter asks the user yes/no questions. Both questions default to yes.
type Prompter interface {
	ConfirmLogin(ctx context.Context, rec discovery.Record) (bool, error)
	ConfirmPull(ctx context.Context, ref registry.Reference) (bool, error)
}

var affirmative = regexp.MustCompile(`(?i)^\s*(?:y|yes)?\s*$`)

// IsAffirmative reports whether answer accepts a [Y]-default question.
func IsAffirmative(answer string) bool {
	return affirmative.MatchString(answer)
}

// LoginQuestion renders the question asked for each running container.
func LoginQuestion(rec discovery.Record) string {
	q := fmt.Sprintf("Log into %s, created %s, %s,", rec.Image, rec.RunningFor, rec.Status)
	if len(rec.Mounts) > 0 {
		q += fmt.Sprintf(" with %s mounted", discovery.JoinMounts(rec.Mounts))
	}
	return q + "? [Y] "
}

// PullQuestion renders the question asked before refreshing the image.
func PullQuestion(ref registry.Reference) string {
	return fmt.Sprintf("A newer version of %s may be available. Pull it now? [Y] ", ref)
}

// NewPrompter returns the full-screen prompter when both streams are
// terminals and the line-based one otherwise.
func NewPrompter(in io.Reader, out io.Writer) Prompter {
	if canUseBubbleTea(in, out) {
		return newBubbleTeaPrompter(in, out)
	}
	return newTerminalPrompter(in, out)
}
