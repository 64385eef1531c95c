package configstore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/strongdm/devshell/internal/registry"
)

// Registry sources.
const (
	SourceManifest = "manifest"
	SourceIndex    = "index"
)

// Pull policies.
const (
	PullAlways = "always"
	PullAsk    = "ask"
)

const (
	defaultRepository         = "ghcr.io/strongdm/coder"
	defaultTag                = "latest"
	defaultRegistryTimeout    = "10s"
	defaultContainerHome      = "/home/ubuntu"
	defaultContainerWorkspace = "/mnt"
	defaultHelper             = "dockerd"
)

var defaultPorts = []int{8080, 8081, 8082}

// Settings is the persisted user configuration.
type Settings struct {
	Image    ImageSettings     `toml:"image"`
	Registry RegistrySettings  `toml:"registry"`
	Session  SessionSettings   `toml:"session"`
	Env      map[string]string `toml:"env,omitempty"`
}

// ImageSettings names the one image devshell manages.
type ImageSettings struct {
	Repository string `toml:"repository,omitempty"`
	Tag        string `toml:"tag,omitempty"`
}

// RegistrySettings selects how remote digests are looked up.
type RegistrySettings struct {
	Source  string `toml:"source,omitempty"`
	Timeout string `toml:"timeout,omitempty"`
}

// SessionSettings shapes the session container.
type SessionSettings struct {
	Ports      []int    `toml:"ports,omitempty"`
	Dotfiles   []string `toml:"dotfiles,omitempty"`
	PullPolicy string   `toml:"pull_policy,omitempty"`
	// Helper is the command started privileged after launch. Nil means the
	// default; an empty string disables it.
	Helper             *string `toml:"helper,omitempty"`
	ContainerHome      string  `toml:"container_home,omitempty"`
	ContainerWorkspace string  `toml:"container_workspace,omitempty"`
}

// New returns the built-in defaults.
func New() Settings {
	return Settings{
		Image:    ImageSettings{Repository: defaultRepository, Tag: defaultTag},
		Registry: RegistrySettings{Source: SourceManifest, Timeout: defaultRegistryTimeout},
		Session: SessionSettings{
			Ports:              append([]int(nil), defaultPorts...),
			PullPolicy:         PullAlways,
			ContainerHome:      defaultContainerHome,
			ContainerWorkspace: defaultContainerWorkspace,
		},
		Env: make(map[string]string),
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.Session.Ports = append([]int(nil), s.Session.Ports...)
	out.Session.Dotfiles = append([]string(nil), s.Session.Dotfiles...)
	if s.Session.Helper != nil {
		helper := *s.Session.Helper
		out.Session.Helper = &helper
	}
	out.Env = make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		out.Env[k] = v
	}
	return out
}

// overlay applies every field set in o on top of s.
func (s Settings) overlay(o Settings) Settings {
	out := s.Clone()
	if v := strings.TrimSpace(o.Image.Repository); v != "" {
		out.Image.Repository = v
	}
	if v := strings.TrimSpace(o.Image.Tag); v != "" {
		out.Image.Tag = v
	}
	if v := strings.TrimSpace(o.Registry.Source); v != "" {
		out.Registry.Source = strings.ToLower(v)
	}
	if v := strings.TrimSpace(o.Registry.Timeout); v != "" {
		out.Registry.Timeout = v
	}
	if len(o.Session.Ports) > 0 {
		out.Session.Ports = append([]int(nil), o.Session.Ports...)
	}
	if len(o.Session.Dotfiles) > 0 {
		out.Session.Dotfiles = append([]string(nil), o.Session.Dotfiles...)
	}
	if v := strings.TrimSpace(o.Session.PullPolicy); v != "" {
		out.Session.PullPolicy = strings.ToLower(v)
	}
	if o.Session.Helper != nil {
		helper := strings.TrimSpace(*o.Session.Helper)
		out.Session.Helper = &helper
	}
	if v := strings.TrimSpace(o.Session.ContainerHome); v != "" {
		out.Session.ContainerHome = v
	}
	if v := strings.TrimSpace(o.Session.ContainerWorkspace); v != "" {
		out.Session.ContainerWorkspace = v
	}
	out.Env = MergeEnv(out.Env, o.Env)
	return out
}

// Validate checks the enumerated settings.
func (s Settings) Validate() error {
	switch s.Registry.Source {
	case SourceManifest, SourceIndex:
	default:
		return fmt.Errorf("registry.source must be %q or %q, got %q", SourceManifest, SourceIndex, s.Registry.Source)
	}
	switch s.Session.PullPolicy {
	case PullAlways, PullAsk:
	default:
		return fmt.Errorf("session.pull_policy must be %q or %q, got %q", PullAlways, PullAsk, s.Session.PullPolicy)
	}
	if _, err := s.Registry.TimeoutDuration(); err != nil {
		return fmt.Errorf("registry.timeout: %w", err)
	}
	if strings.TrimSpace(s.Image.Repository) == "" {
		return fmt.Errorf("image.repository must not be empty")
	}
	if _, err := registry.ParseReference(s.ImageRef()); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	return nil
}

// ImageRef renders "repository:tag".
func (s Settings) ImageRef() string {
	tag := s.Image.Tag
	if tag == "" {
		tag = defaultTag
	}
	return s.Image.Repository + ":" + tag
}

// HelperCommand returns the helper argv, or nil when disabled.
func (s Settings) HelperCommand() []string {
	if s.Session.Helper == nil {
		return []string{defaultHelper}
	}
	fields := strings.Fields(*s.Session.Helper)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// TimeoutDuration accepts Go durations ("15s") or bare seconds ("15").
func (r RegistrySettings) TimeoutDuration() (time.Duration, error) {
	raw := strings.TrimSpace(r.Timeout)
	if raw == "" {
		raw = defaultRegistryTimeout
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration %q must be positive", raw)
		}
		return d, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return time.Duration(seconds) * time.Second, nil
}

// ApplyEnv honours DEVSHELL_IMAGE ("repo[:tag]") from the process environment.
// A missing tag means "latest"; digest references are rejected.
func (s Settings) ApplyEnv(getenv func(string) string) (Settings, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	raw := strings.TrimSpace(getenv("DEVSHELL_IMAGE"))
	if raw == "" {
		return s, nil
	}
	ref, err := registry.ParseReference(raw)
	if err != nil {
		return s, fmt.Errorf("DEVSHELL_IMAGE: %w", err)
	}
	out := s.Clone()
	out.Image.Repository = ref.Repository
	out.Image.Tag = ref.Tag
	return out, nil
}

// MergeEnv applies layers in order; later layers win. Blank keys are dropped.
func MergeEnv(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for key, value := range layer {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			out[key] = value
		}
	}
	return out
}

const escapedDollarPlaceholder = "\x00DEVSHELL_ESCAPED_DOLLAR\x00"

// expandConfigValue expands $VAR and ${VAR} against the process environment;
// `\$` keeps a literal dollar. Values are expanded once, when a file is read.
func expandConfigValue(raw string) string {
	if !strings.Contains(raw, "$") {
		return raw
	}
	protected := strings.ReplaceAll(raw, `\$`, escapedDollarPlaceholder)
	expanded := os.Expand(protected, os.Getenv)
	return strings.ReplaceAll(expanded, escapedDollarPlaceholder, "$")
}
