// Package launcher starts the detached session container.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/strongdm/devshell/internal/engine"
	"github.com/strongdm/devshell/internal/mounts"
	"github.com/strongdm/devshell/internal/registry"
)

const (
	MinPort = 1024
	MaxPort = 65535

	// DefaultLabel is the label key every session container carries.
	DefaultLabel = "devshell"
)

// ErrInvalidPort is returned for ports outside [MinPort, MaxPort].
var ErrInvalidPort = errors.New("invalid port")

// DefaultPorts are published when the caller asks for none.
var DefaultPorts = []int{8080, 8081, 8082}

// DefaultCommand is the shell started in the container.
var DefaultCommand = []string{"bash", "--login"}

// DefaultHelper is started privileged next to the shell for images that
// ship their own engine.
var DefaultHelper = []string{"dockerd"}

// JekyllCommand serves the workspace as a Jekyll site on port 8080.
func JekyllCommand() []string {
	return append(append([]string(nil), DefaultCommand...), "-c", "bundle install && bundle exec jekyll serve --host 0.0.0.0 --port 8080")
}

// Request describes one session container.
type Request struct {
	Image     registry.Reference
	Workspace mounts.Spec
	Dotfiles  []mounts.Spec
	Ports     []int
	Env       map[string]string
	// Command defaults to DefaultCommand.
	Command []string
	// Label defaults to DefaultLabel.
	Label string
	// Helper runs best-effort after start; nil or empty skips it.
	Helper []string
}

// Launcher creates session containers through the engine.
type Launcher struct {
	Engine engine.Runner
	Logger *log.Logger
	// Verbose enables debug logging.
	Verbose bool
	// NewSessionID defaults to uuid.NewString.
	NewSessionID func() string
}

// ValidatePorts checks every port before any engine call is made.
func ValidatePorts(ports []int) error {
	for _, p := range ports {
		if p < MinPort || p > MaxPort {
			return fmt.Errorf("%w %d: must be between %d and %d", ErrInvalidPort, p, MinPort, MaxPort)
		}
	}
	return nil
}

// Launch starts the container and returns its handle. Fixed host-port
// bindings are tried first; if a host port is taken the run is retried once
// publishing every exposed port to a random host port.
func (l *Launcher) Launch(ctx context.Context, req Request) (engine.Handle, error) {
	ports := req.Ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	if err := ValidatePorts(ports); err != nil {
		return engine.Handle{}, err
	}
	exposed, bindings, err := portSpecs(ports)
	if err != nil {
		return engine.Handle{}, err
	}

	base := l.baseArgs(req)
	command := req.Command
	if len(command) == 0 {
		command = DefaultCommand
	}

	fixed := append(append(append([]string(nil), base...), publishArgs(exposed, bindings)...), req.Image.String())
	fixed = append(fixed, command...)
	id, err := l.Engine.Output(ctx, fixed...)
	if err != nil {
		if !engine.IsPortConflict(err) {
			return engine.Handle{}, fmt.Errorf("start container: %w", err)
		}
		l.debugf("Requested ports are in use; publishing to random host ports instead.")

		random := append(append(append([]string(nil), base...), publishAllArgs(exposed)...), req.Image.String())
		random = append(random, command...)
		id, err = l.Engine.Output(ctx, random...)
		if err != nil {
			return engine.Handle{}, fmt.Errorf("start container: %w", err)
		}
	}

	h := engine.Handle{ID: strings.TrimSpace(id)}
	if h.ID == "" {
		return engine.Handle{}, fmt.Errorf("start container: engine returned no container id")
	}

	l.startHelper(ctx, h, req.Helper)
	return h, nil
}

func (l *Launcher) baseArgs(req Request) []string {
	label := req.Label
	if label == "" {
		label = DefaultLabel
	}
	newID := l.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}

	args := []string{
		"run",
		"--detach",
		"--interactive",
		"--tty",
		"--rm",
		"--security-opt", "seccomp=unconfined",
		"--label", label + "=" + newID(),
		"--volume", req.Workspace.Volume(),
	}
	for _, spec := range req.Dotfiles {
		args = append(args, "--volume", spec.Volume())
	}
	if req.Workspace.ContainerPath != "" {
		args = append(args, "--workdir", req.Workspace.ContainerPath)
	}

	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--env", k+"="+req.Env[k])
	}
	return args
}

// portSpecs binds each port to the same host port. The container ports come
// back sorted and deduplicated.
func portSpecs(ports []int) ([]nat.Port, nat.PortMap, error) {
	specs := make([]string, 0, len(ports))
	for _, p := range ports {
		specs = append(specs, strconv.Itoa(p)+":"+strconv.Itoa(p))
	}
	set, bindings, err := nat.ParsePortSpecs(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPort, err)
	}
	exposed := make([]nat.Port, 0, len(set))
	for port := range set {
		exposed = append(exposed, port)
	}
	sort.Slice(exposed, func(i, j int) bool { return exposed[i].Int() < exposed[j].Int() })
	return exposed, bindings, nil
}

func publishArgs(exposed []nat.Port, bindings nat.PortMap) []string {
	args := make([]string, 0, len(exposed)*2)
	for _, port := range exposed {
		for _, b := range bindings[port] {
			spec := b.HostPort + ":" + port.Port()
			if b.HostIP != "" {
				spec = b.HostIP + ":" + spec
			}
			args = append(args, "--publish", spec)
		}
	}
	return args
}

func publishAllArgs(exposed []nat.Port) []string {
	args := []string{"--publish-all"}
	for _, port := range exposed {
		args = append(args, "--expose", port.Port())
	}
	return args
}

// startHelper never reports failure: the helper is optional.
func (l *Launcher) startHelper(ctx context.Context, h engine.Handle, helper []string) {
	if len(helper) == 0 {
		return
	}
	args := append([]string{"exec", "--detach", "--privileged", "--user", "root", h.ID}, helper...)
	if _, err := l.Engine.Output(ctx, args...); err != nil {
		l.debugf("helper %s did not start: %v", strings.Join(helper, " "), err)
	}
}

func (l *Launcher) debugf(format string, args ...interface{}) {
	if l.Verbose && l.Logger != nil {
		l.Logger.Printf(format, args...)
	}
}
