// Package configstore persists devshell settings in an XDG-compliant TOML file
// and reads per-workspace overrides from .devshell.yaml. Layers merge as
// defaults, then the user file, then the workspace file; command-line flags
// are applied on top by the caller.
package configstore
