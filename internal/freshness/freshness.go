// Package freshness decides whether the locally cached image should be
// refreshed from its registry before a session starts.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/strongdm/devshell/internal/registry"
)

// Action is the outcome of a freshness check.
type Action int

const (
	Skip Action = iota
	Pull
	AskThenPull
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "skip"
	case Pull:
		return "pull"
	case AskThenPull:
		return "ask-then-pull"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// OnStale selects what happens when the image may be out of date.
type OnStale int

const (
	PullSilently OnStale = iota
	Ask
)

// ParseOnStale maps the pull_policy setting onto OnStale. Blank means "always".
func ParseOnStale(raw string) (OnStale, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "always":
		return PullSilently, nil
	case "ask":
		return Ask, nil
	default:
		return PullSilently, fmt.Errorf("invalid pull policy %q (want \"always\" or \"ask\")", raw)
	}
}

func (o OnStale) String() string {
	if o == Ask {
		return "ask"
	}
	return "always"
}

// Policy configures a Resolver.
type Policy struct {
	OnStale OnStale
}

func (p Policy) staleAction() Action {
	if p.OnStale == Ask {
		return AskThenPull
	}
	return Pull
}

// Checker is the capability the orchestrator depends on. Resolver is the
// registry-digest implementation.
type Checker interface {
	Resolve(ctx context.Context, ref registry.Reference, fast bool) (Action, error)
}

// LocalDigester reads the digest of the image already on this host.
type LocalDigester interface {
	LocalDigest(ctx context.Context, ref registry.Reference) (digest.Digest, error)
}

// Resolver compares the local and remote digests of one reference.
type Resolver struct {
	Local  LocalDigester
	Remote registry.RemoteDigester
	Policy Policy

	Logger  *log.Logger
	Verbose bool
}

var _ Checker = (*Resolver)(nil)

// Resolve never fails because of a digest lookup: lookup errors degrade to the
// configured stale action. The only error it returns is ctx's.
func (r *Resolver) Resolve(ctx context.Context, ref registry.Reference, fast bool) (Action, error) {
	if fast {
		return Skip, nil
	}

	local, err := r.Local.LocalDigest(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Skip, ctxErr
		}
		if errors.Is(err, registry.ErrNotFound) {
			r.debugf("%s is not present locally", ref)
			return Pull, nil
		}
		r.debugf("local digest lookup for %s failed: %v", ref, err)
		return r.Policy.staleAction(), nil
	}

	remote, err := r.Remote.RemoteDigest(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Skip, ctxErr
		}
		r.debugf("remote digest lookup for %s failed: %v", ref, err)
		return r.Policy.staleAction(), nil
	}

	if local == remote {
		r.debugf("%s is up to date (%s)", ref, local)
		return Skip, nil
	}
	r.debugf("%s is stale: local %s, remote %s", ref, local, remote)
	return r.Policy.staleAction(), nil
}

func (r *Resolver) debugf(format string, args ...interface{}) {
	if r.Verbose && r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

// Confirmer asks the user whether a pull should go ahead.
type Confirmer interface {
	ConfirmPull(ctx context.Context, ref registry.Reference) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, ref registry.Reference) (bool, error)

func (f ConfirmFunc) ConfirmPull(ctx context.Context, ref registry.Reference) (bool, error) {
	return f(ctx, ref)
}

// AlwaysConfirm answers yes without prompting; used when no terminal is attached.
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, registry.Reference) (bool, error) {
	return true, nil
})

// Puller fetches ref from its registry.
type Puller interface {
	Pull(ctx context.Context, ref registry.Reference) error
}

// Outcome reports what Apply did.
type Outcome struct {
	Action   Action
	Pulled   bool
	Declined bool

	// Interrupted means the prompt was cancelled; nothing was pulled.
	Interrupted bool
	// PullErr is set when a pull was attempted and failed. It is informational;
	// the run continues with whatever image is present.
	PullErr     error
}

// Apply carries out action. A failed prompt counts as consent, matching the
// blank-answer default, unless the failure is a cancellation.
func Apply(ctx context.Context, action Action, ref registry.Reference, confirm Confirmer, puller Puller) Outcome {
	out := Outcome{Action: action}
	switch action {
	case Skip:
		return out
	case AskThenPull:
		if confirm == nil {
			confirm = AlwaysConfirm
		}
		ok, err := confirm.ConfirmPull(ctx, ref)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out.Interrupted = true
			return out
		}
		if err == nil && !ok {
			out.Declined = true
			return out
		}
	}

	if err := puller.Pull(ctx, ref); err != nil {
		out.PullErr = fmt.Errorf("pull %s: %w", ref, err)
		return out
	}
	out.Pulled = true
	return out
}

// Report writes a one-line summary of a failed pull to w.
func (o Outcome) Report(w io.Writer) {
	if o.PullErr == nil || w == nil {
		return
	}
	fmt.Fprintf(w, "Could not update image: %v\n", o.PullErr)
}
