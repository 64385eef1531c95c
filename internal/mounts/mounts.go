// Package mounts turns the workspace directory and dotfile arguments into
// bind mounts for the session container.
package mounts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultContainerHome is where dotfiles land inside the container.
	DefaultContainerHome = "/home/ubuntu"
	// DefaultContainerWorkspace is where the workspace directory is mounted.
	DefaultContainerWorkspace = "/mnt"

	homeAlias = "~" + string(filepath.Separator)
)

// Kind classifies a rejected path.
type Kind int

const (
	OutsideHome Kind = iota + 1
	NotFound
	NotADotfile
	BadWorkspace
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrOutsideHome  = errors.New("not in your $HOME")
	ErrNotFound     = errors.New("no such file or directory")
	ErrNotADotfile  = errors.New("not a dotfile")
	ErrBadWorkspace = errors.New("not a directory")
)

func (k Kind) sentinel() error {
	switch k {
	case OutsideHome:
		return ErrOutsideHome
	case NotFound:
		return ErrNotFound
	case NotADotfile:
		return ErrNotADotfile
	case BadWorkspace:
		return ErrBadWorkspace
	default:
		return nil
	}
}

func (k Kind) String() string {
	switch k {
	case OutsideHome:
		return "OutsideHome"
	case NotFound:
		return "NotFound"
	case NotADotfile:
		return "NotADotfile"
	case BadWorkspace:
		return "BadWorkspace"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error reports the offending path and why it was rejected.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Kind.sentinel())
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Spec is one bind mount.
type Spec struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Volume renders the engine's --volume argument.
func (s Spec) Volume() string {
	v := s.HostPath + ":" + s.ContainerPath
	if s.ReadOnly {
		v += ":ro"
	}
	return v
}

type options struct {
	stat               func(string) (os.FileInfo, error)
	containerHome      string
	containerWorkspace string
}

// Option customises Validate.
type Option func(*options)

// WithStat replaces os.Stat for existence checks.
func WithStat(fn func(string) (os.FileInfo, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.stat = fn
		}
	}
}

// WithContainerHome overrides DefaultContainerHome.
func WithContainerHome(dir string) Option {
	return func(o *options) {
		if strings.TrimSpace(dir) != "" {
			o.containerHome = filepath.ToSlash(filepath.Clean(dir))
		}
	}
}

// WithContainerWorkspace overrides DefaultContainerWorkspace.
func WithContainerWorkspace(dir string) Option {
	return func(o *options) {
		if strings.TrimSpace(dir) != "" {
			o.containerWorkspace = filepath.ToSlash(filepath.Clean(dir))
		}
	}
}

// Validate returns the workspace mount followed by one read-only mount per
// dotfile, in input order. The first invalid entry aborts the whole call.
func Validate(home, workspaceDir string, dotfiles []string, opts ...Option) ([]Spec, error) {
	o := options{
		stat:               os.Stat,
		containerHome:      DefaultContainerHome,
		containerWorkspace: DefaultContainerWorkspace,
	}
	for _, opt := range opts {
		opt(&o)
	}

	home = filepath.Clean(home)
	if !filepath.IsAbs(home) {
		return nil, fmt.Errorf("home directory %q must be absolute", home)
	}

	workspace, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, &Error{Kind: BadWorkspace, Path: workspaceDir, Err: err}
	}
	info, err := o.stat(workspace)
	if err != nil || !info.IsDir() {
		return nil, &Error{Kind: BadWorkspace, Path: workspaceDir, Err: err}
	}

	specs := make([]Spec, 0, len(dotfiles)+1)
	specs = append(specs, Spec{HostPath: workspace, ContainerPath: o.containerWorkspace})

	for _, raw := range dotfiles {
		spec, err := o.dotfile(home, raw)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (o options) dotfile(home, raw string) (Spec, error) {
	var resolved string
	switch {
	case filepath.IsAbs(raw):
		resolved = filepath.Clean(raw)
		if !within(home, resolved) {
			return Spec{}, &Error{Kind: OutsideHome, Path: raw}
		}
	case strings.HasPrefix(raw, homeAlias):
		resolved = filepath.Join(home, strings.TrimPrefix(raw, homeAlias))
	default:
		resolved = filepath.Join(home, raw)
	}
	// Relative entries can still climb out with "..".
	if !within(home, resolved) {
		return Spec{}, &Error{Kind: OutsideHome, Path: raw}
	}

	if _, err := o.stat(resolved); err != nil {
		return Spec{}, &Error{Kind: NotFound, Path: resolved, Err: err}
	}

	rel, err := filepath.Rel(home, resolved)
	if err != nil || rel == "." || !strings.HasPrefix(rel, ".") {
		return Spec{}, &Error{Kind: NotADotfile, Path: resolved}
	}

	return Spec{
		HostPath:      resolved,
		ContainerPath: o.containerHome + "/" + filepath.ToSlash(rel),
		ReadOnly:      true,
	}, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
