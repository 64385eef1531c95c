package runner

import "strings"

var productVersion = "dev"

// SetVersion records the release version; blank values are ignored.
func SetVersion(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	productVersion = v
}

// Version returns the release version with a leading "v", or "dev" for local
// builds.
func Version() string {
	v := strings.TrimSpace(productVersion)
	if v == "" || v == "dev" {
		return "dev"
	}
	if strings.HasPrefix(strings.ToLower(v), "v") {
		return v
	}
	return "v" + v
}
