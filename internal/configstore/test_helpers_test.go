package configstore

import (
	"os"
	"runtime"
	"sync"
	"testing"
)

var envMu sync.Mutex

func lockEnv(t *testing.T) {
	t.Helper()
	envMu.Lock()
	t.Cleanup(func() {
		envMu.Unlock()
	})
}

func testSetEnv(t *testing.T, key, value string) {
	t.Helper()
	prev, existed := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if !existed {
			_ = os.Unsetenv(key)
			return
		}
		if err := os.Setenv(key, prev); err != nil {
			t.Fatalf("restore env %s: %v", key, err)
		}
	})
}

func setHome(t *testing.T, dir string) {
	t.Helper()
	switch runtime.GOOS {
	case "windows":
		testSetEnv(t, "USERPROFILE", dir)
		testSetEnv(t, "HOMEDRIVE", "")
		testSetEnv(t, "HOMEPATH", "")
	default:
		testSetEnv(t, "HOME", dir)
	}
}

func unsetHome(t *testing.T) {
	t.Helper()
	switch runtime.GOOS {
	case "windows":
		testSetEnv(t, "USERPROFILE", "")
		testSetEnv(t, "HOMEDRIVE", "")
		testSetEnv(t, "HOMEPATH", "")
	default:
		testSetEnv(t, "HOME", "")
	}
}

// isolateConfig points every config lookup at a fresh directory.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testSetEnv(t, "DEVSHELL_HOME", dir)
	testSetEnv(t, "DEVSHELL_IMAGE", "")
	return dir
}
