package configstore

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeWorkspaceFile(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, WorkspaceFileName), []byte(body), 0o644); err != nil {
		t.Fatalf("write workspace file: %v", err)
	}
}

func TestLoadWorkspaceMissing(t *testing.T) {
	t.Parallel()

	o, err := LoadWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("LoadWorkspace returned error: %v", err)
	}
	if !reflect.DeepEqual(o, WorkspaceOverrides{}) {
		t.Fatalf("expected zero overrides, got %#v", o)
	}
}

func TestLoadWorkspaceEmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "")
	if _, err := LoadWorkspace(dir); err != nil {
		t.Fatalf("empty file should be accepted: %v", err)
	}
}

func TestLoadWorkspaceRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "portz: [1]\n")
	_, err := LoadWorkspace(dir)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestLoadWorkspaceRejectsDotfiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "dotfiles: [.ssh]\n")
	_, err := LoadWorkspace(dir)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError for dotfiles, got %v", err)
	}
}

func TestLoadWorkspaceKeepsEnvLiteral(t *testing.T) {
	lockEnv(t)
	testSetEnv(t, "DEVSHELL_TEST_SECRET", "hunter2")

	dir := t.TempDir()
	writeWorkspaceFile(t, dir, `
env:
  TOKEN: $DEVSHELL_TEST_SECRET
  BRACED: ${DEVSHELL_TEST_SECRET}
`)
	o, err := LoadWorkspace(dir)
	if err != nil {
		t.Fatalf("LoadWorkspace returned error: %v", err)
	}
	want := map[string]string{
		"TOKEN":  "$DEVSHELL_TEST_SECRET",
		"BRACED": "${DEVSHELL_TEST_SECRET}",
	}
	if !reflect.DeepEqual(o.Env, want) {
		t.Fatalf("env = %#v, want %#v", o.Env, want)
	}
}

func TestResolveLayersWorkspaceOverUserFile(t *testing.T) {
	t.Parallel()
	lockEnv(t)
	cfgDir := isolateConfig(t)

	user := `
[session]
ports = [9000]
dotfiles = [".bashrc"]

[env]
A = "user"
B = "user"
`
	if err := os.WriteFile(filepath.Join(cfgDir, configFileName), []byte(user), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ws := t.TempDir()
	writeWorkspaceFile(t, ws, `
tag: ruby
ports: [4000, 4001]
env:
  B: workspace
`)

	cfg, err := Resolve(ws)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cfg.ImageRef() != "ghcr.io/strongdm/coder:ruby" {
		t.Fatalf("ImageRef() = %q", cfg.ImageRef())
	}
	if !reflect.DeepEqual(cfg.Session.Ports, []int{4000, 4001}) {
		t.Fatalf("ports = %v", cfg.Session.Ports)
	}
	if !reflect.DeepEqual(cfg.Session.Dotfiles, []string{".bashrc"}) {
		t.Fatalf("dotfiles = %v", cfg.Session.Dotfiles)
	}
	if cfg.Env["A"] != "user" || cfg.Env["B"] != "workspace" {
		t.Fatalf("env = %#v", cfg.Env)
	}
}

func TestResolveRejectsInvalidSettings(t *testing.T) {
	t.Parallel()
	lockEnv(t)
	cfgDir := isolateConfig(t)

	if err := os.WriteFile(filepath.Join(cfgDir, configFileName), []byte("[session]\npull_policy = \"never\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Resolve(""); err == nil {
		t.Fatal("expected validation error")
	}
}
