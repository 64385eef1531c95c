package configstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WorkspaceFileName is read from the root of the mounted directory.
const WorkspaceFileName = ".devshell.yaml"

// WorkspaceOverrides are the settings a project may pin for itself. The file
// travels with the checkout, so it cannot name host files to mount and its
// env values are taken literally, never expanded against the host
// environment.
type WorkspaceOverrides struct {
	Tag   string            `yaml:"tag"`
	Ports []int             `yaml:"ports"`
	Env   map[string]string `yaml:"env"`
}

// LoadWorkspace reads <dir>/.devshell.yaml. A missing file yields zero
// overrides.
func LoadWorkspace(dir string) (WorkspaceOverrides, error) {
	path := filepath.Join(dir, WorkspaceFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return WorkspaceOverrides{}, nil
	}
	if err != nil {
		return WorkspaceOverrides{}, fmt.Errorf("read workspace config: %w", err)
	}

	var o WorkspaceOverrides
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return WorkspaceOverrides{}, &ParseError{Path: path, Err: err}
	}
	return o, nil
}

func (o WorkspaceOverrides) settings() Settings {
	return Settings{
		Image:   ImageSettings{Tag: o.Tag},
		Session: SessionSettings{Ports: o.Ports},
		Env:     o.Env,
	}
}

// Resolve layers defaults, the user file, DEVSHELL_IMAGE and the workspace
// file, then validates the result.
func Resolve(workspaceDir string) (Settings, error) {
	cfg, err := Load()
	if err != nil {
		return cfg, err
	}
	cfg, err = cfg.ApplyEnv(os.Getenv)
	if err != nil {
		return cfg, err
	}
	if workspaceDir != "" {
		o, err := LoadWorkspace(workspaceDir)
		if err != nil {
			return cfg, err
		}
		cfg = cfg.overlay(o.settings())
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
