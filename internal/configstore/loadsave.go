package configstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ParseError represents a TOML or YAML decode failure.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads the persisted settings layered over the defaults. A missing file
// yields the defaults.
func Load() (Settings, error) {
	_, file, err := GetConfigPath()
	if err != nil {
		return New(), err
	}
	return LoadFile(file)
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (Settings, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	layer, err := decodeSettings(data, path)
	if err != nil {
		return cfg, err
	}
	return cfg.overlay(layer), nil
}

func decodeSettings(data []byte, path string) (Settings, error) {
	var layer Settings
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&layer); err != nil {
		var decodeErr *toml.DecodeError
		var strictErr *toml.StrictMissingError
		if errors.As(err, &decodeErr) || errors.As(err, &strictErr) {
			return Settings{}, &ParseError{Path: path, Err: err}
		}
		return Settings{}, err
	}
	for key, value := range layer.Env {
		layer.Env[key] = expandConfigValue(value)
	}
	return layer, nil
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Settings) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Save atomically writes the settings to disk.
func Save(cfg Settings) error {
	dir, file, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := Encode(tmp, cfg); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, file); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	cleaned = true
	return nil
}
