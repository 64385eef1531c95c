package mounts

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func setupHome(t *testing.T) (home, workspace string) {
	t.Helper()
	home = t.TempDir()
	workspace = filepath.Join(home, "proj")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	for _, rel := range []string{".bashrc", ".gitconfig", "notes.txt", filepath.Join(".config", "nvim", "init.vim")} {
		path := filepath.Join(home, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return home, workspace
}

func TestValidateAcceptsDotfiles(t *testing.T) {
	t.Parallel()

	home, workspace := setupHome(t)
	specs, err := Validate(home, workspace, []string{
		".bashrc",
		"~/.gitconfig",
		filepath.Join(home, ".config", "nvim", "init.vim"),
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	want := []Spec{
		{HostPath: workspace, ContainerPath: "/mnt"},
		{HostPath: filepath.Join(home, ".bashrc"), ContainerPath: "/home/ubuntu/.bashrc", ReadOnly: true},
		{HostPath: filepath.Join(home, ".gitconfig"), ContainerPath: "/home/ubuntu/.gitconfig", ReadOnly: true},
		{HostPath: filepath.Join(home, ".config", "nvim", "init.vim"), ContainerPath: "/home/ubuntu/.config/nvim/init.vim", ReadOnly: true},
	}
	if len(specs) != len(want) {
		t.Fatalf("got %d specs, want %d: %+v", len(specs), len(want), specs)
	}
	for i := range want {
		if specs[i] != want[i] {
			t.Fatalf("spec[%d] = %+v, want %+v", i, specs[i], want[i])
		}
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	home, workspace := setupHome(t)
	outside := t.TempDir()

	tests := []struct {
		name    string
		dotfile string
		kind    Kind
		target  error
	}{
		{name: "absoluteOutsideHome", dotfile: filepath.Join(outside, ".bashrc"), kind: OutsideHome, target: ErrOutsideHome},
		{name: "relativeEscape", dotfile: "../../etc/.profile", kind: OutsideHome, target: ErrOutsideHome},
		{name: "missingBareName", dotfile: ".zshrc", kind: NotFound, target: ErrNotFound},
		{name: "missingAlias", dotfile: "~/.vimrc", kind: NotFound, target: ErrNotFound},
		{name: "notADotfile", dotfile: "notes.txt", kind: NotADotfile, target: ErrNotADotfile},
		{name: "nestedNotADotfile", dotfile: "proj", kind: NotADotfile, target: ErrNotADotfile},
		{name: "homeItself", dotfile: home, kind: NotADotfile, target: ErrNotADotfile},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			specs, err := Validate(home, workspace, []string{".bashrc", tt.dotfile})
			if err == nil {
				t.Fatalf("expected error, got %+v", specs)
			}
			if specs != nil {
				t.Fatalf("validation must be all-or-nothing, got %+v", specs)
			}
			var mErr *Error
			if !errors.As(err, &mErr) {
				t.Fatalf("expected *Error, got %T: %v", err, err)
			}
			if mErr.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", mErr.Kind, tt.kind)
			}
			if !errors.Is(err, tt.target) {
				t.Fatalf("errors.Is(%v, %v) = false", err, tt.target)
			}
		})
	}
}

func TestValidateNotFoundReportsResolvedPath(t *testing.T) {
	t.Parallel()

	home, workspace := setupHome(t)
	_, err := Validate(home, workspace, []string{".zshrc"})
	var mErr *Error
	if !errors.As(err, &mErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if mErr.Path != filepath.Join(home, ".zshrc") {
		t.Fatalf("path = %q", mErr.Path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected underlying stat error to unwrap to fs.ErrNotExist")
	}
}

func TestValidateWorkspace(t *testing.T) {
	t.Parallel()

	home, _ := setupHome(t)
	for _, ws := range []string{filepath.Join(home, "missing"), filepath.Join(home, "notes.txt")} {
		_, err := Validate(home, ws, nil)
		if !errors.Is(err, ErrBadWorkspace) {
			t.Fatalf("Validate(%q) error = %v, want ErrBadWorkspace", ws, err)
		}
	}
}

func TestValidateOptions(t *testing.T) {
	t.Parallel()

	home := "/home/alice"
	stat := func(path string) (os.FileInfo, error) {
		switch path {
		case "/srv/proj":
			return fakeInfo{dir: true}, nil
		case "/home/alice/.tmux.conf":
			return fakeInfo{}, nil
		default:
			return nil, fs.ErrNotExist
		}
	}

	specs, err := Validate(home, "/srv/proj", []string{".tmux.conf"},
		WithStat(stat),
		WithContainerHome("/root"),
		WithContainerWorkspace("/workspace/"),
	)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if specs[0].ContainerPath != "/workspace" || specs[0].ReadOnly {
		t.Fatalf("workspace spec = %+v", specs[0])
	}
	if specs[1].ContainerPath != "/root/.tmux.conf" || !specs[1].ReadOnly {
		t.Fatalf("dotfile spec = %+v", specs[1])
	}
}

func TestSpecVolume(t *testing.T) {
	t.Parallel()

	if got := (Spec{HostPath: "/tmp/proj", ContainerPath: "/mnt"}).Volume(); got != "/tmp/proj:/mnt" {
		t.Fatalf("Volume() = %q", got)
	}
	if got := (Spec{HostPath: "/h/.bashrc", ContainerPath: "/home/ubuntu/.bashrc", ReadOnly: true}).Volume(); got != "/h/.bashrc:/home/ubuntu/.bashrc:ro" {
		t.Fatalf("Volume() = %q", got)
	}
}

type fakeInfo struct {
	os.FileInfo
	dir bool
}

func (f fakeInfo) IsDir() bool { return f.dir }
