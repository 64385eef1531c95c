package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeDir evaluates HOME-style environment variables on each call rather than
// trusting a cached value, so tests that change HOME see the change.
func HomeDir() (string, error) {
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		drive := strings.TrimSpace(os.Getenv("HOMEDRIVE"))
		path := strings.TrimSpace(os.Getenv("HOMEPATH"))
		if drive != "" && path != "" {
			home = filepath.Join(drive, path)
		} else {
			home = strings.TrimSpace(os.Getenv("USERPROFILE"))
		}
	}
	if home != "" {
		return filepath.Clean(home), nil
	}
	return "", fmt.Errorf("resolve home dir: home directory not found")
}
