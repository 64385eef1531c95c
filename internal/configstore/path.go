package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const configFileName = "config.toml"

// GetConfigPath resolves the devshell configuration directory and file path
// using DEVSHELL_HOME, then XDG rules, with a fallback to
// ~/.config/devshell/config.toml.
func GetConfigPath() (string, string, error) {
	if override := strings.TrimSpace(os.Getenv("DEVSHELL_HOME")); override != "" {
		dir := filepath.Clean(override)
		if !filepath.IsAbs(dir) {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return "", "", fmt.Errorf("resolve DEVSHELL_HOME %q: %w", override, err)
			}
			dir = abs
		}
		return dir, filepath.Join(dir, configFileName), nil
	}

	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base != "" {
		dir := buildConfigDir(base)
		return dir, filepath.Join(dir, configFileName), nil
	}

	home, err := HomeDir()
	if err != nil {
		return "", "", err
	}
	dir := buildConfigDir(filepath.Join(home, ".config"))
	return dir, filepath.Join(dir, configFileName), nil
}

func buildConfigDir(base string) string {
	return filepath.Join(base, "devshell")
}
