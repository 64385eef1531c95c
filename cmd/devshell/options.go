package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/strongdm/devshell/internal/configstore"
	"github.com/strongdm/devshell/internal/freshness"
	"github.com/strongdm/devshell/internal/launcher"
	"github.com/strongdm/devshell/internal/registry"
	"github.com/strongdm/devshell/internal/runner"
)

// loginAny is what --login holds when given without a CONTAINER.
const loginAny = "\x00any"

type cliFlags struct {
	dotfiles []string
	fast     bool
	jekyll   bool
	login    string
	ports    []int
	portsSet bool
	stop     bool
	tag      string
	update   bool
	image    string
	verbose  bool
}

// loginTarget interprets --login. pflag cannot take an optional value from
// the next word, so in login mode a lone positional names the container.
func loginTarget(f cliFlags, args []string) (runner.LoginMode, string) {
	switch {
	case f.login == "":
		return runner.LoginNone, ""
	case f.login != loginAny:
		return runner.LoginContainer, f.login
	case len(args) == 1:
		return runner.LoginContainer, args[0]
	default:
		return runner.LoginAny, ""
	}
}

// workspaceArg returns the directory whose settings apply: DIRECTORY, else
// the working directory.
func workspaceArg(f cliFlags, args []string) (string, error) {
	if mode, _ := loginTarget(f, args); mode == runner.LoginNone && len(args) == 1 {
		return filepath.Abs(args[0])
	}
	return os.Getwd()
}

func buildOptions(f cliFlags, args []string, settings configstore.Settings, home string) (runner.Options, error) {
	mode, container := loginTarget(f, args)
	if mode != runner.LoginNone && len(args) > 0 && container != args[0] {
		return runner.Options{}, fmt.Errorf("DIRECTORY cannot be combined with --login=%s", container)
	}

	raw := settings.ImageRef()
	if f.image != "" {
		raw = f.image
	}
	ref, err := registry.ParseReference(raw)
	if err != nil {
		return runner.Options{}, err
	}
	ref = ref.WithTag(f.tag)

	onStale, err := freshness.ParseOnStale(settings.Session.PullPolicy)
	if err != nil {
		return runner.Options{}, err
	}
	timeout, err := settings.Registry.TimeoutDuration()
	if err != nil {
		return runner.Options{}, err
	}

	workspace, err := workspaceArg(f, args)
	if err != nil {
		return runner.Options{}, err
	}

	ports := settings.Session.Ports
	if f.portsSet {
		ports = f.ports
	}
	command := launcher.DefaultCommand
	if f.jekyll {
		command = launcher.JekyllCommand()
	}

	opts := runner.Options{
		Image:              ref,
		Workspace:          workspace,
		Home:               home,
		Dotfiles:           append(append([]string(nil), settings.Session.Dotfiles...), f.dotfiles...),
		Ports:              ports,
		Env:                settings.Env,
		Command:            command,
		Helper:             settings.HelperCommand(),
		Label:              launcher.DefaultLabel,
		ContainerHome:      settings.Session.ContainerHome,
		ContainerWorkspace: settings.Session.ContainerWorkspace,
		OnStale:            onStale,
		RegistrySource:     settings.Registry.Source,
		RegistryTimeout:    timeout,
		Fast:               f.fast,
		Update:             f.update,
		Stop:               f.stop,
		Login:              mode,
		LoginContainer:     container,
		Verbose:            f.verbose,
	}
	if err := opts.Validate(); err != nil {
		return runner.Options{}, err
	}
	return opts, nil
}
