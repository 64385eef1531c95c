package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/strongdm/devshell/internal/configstore"
	"github.com/strongdm/devshell/internal/runner"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// usageError marks bad invocations so they exit with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func main() {
	runner.SetVersion(version)
	os.Exit(exitCode(newRootCmd().Execute()))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *runner.ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	fmt.Fprintf(os.Stderr, "devshell: %v\n", err)
	var usage *usageError
	if errors.As(err, &usage) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	var f cliFlags

	root := &cobra.Command{
		Use:           "devshell [flags] [DIRECTORY]",
		Short:         "Start or rejoin a development container with DIRECTORY mounted",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", runner.Version(), shortHash(commit), buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return &usageError{err: fmt.Errorf("accepts at most one DIRECTORY, got %d arguments", len(args))}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			f.portsSet = cmd.Flags().Changed("port")
			dir, err := workspaceArg(f, args)
			if err != nil {
				return err
			}
			settings, err := configstore.Resolve(dir)
			if err != nil {
				return err
			}
			home, err := configstore.HomeDir()
			if err != nil {
				return err
			}
			opts, err := buildOptions(f, args, settings, home)
			if err != nil {
				return err
			}
			return runner.Run(context.Background(), opts)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.Flags()
	flags.StringArrayVarP(&f.dotfiles, "dotfile", "d", nil, "dotfile in your $HOME to mount read-only in the container's $HOME")
	flags.BoolVarP(&f.fast, "fast", "f", false, "skip the image update check")
	flags.BoolVarP(&f.jekyll, "jekyll", "j", false, "serve a Jekyll site from DIRECTORY")
	flags.StringVarP(&f.login, "login", "l", "", "log into a running container, or into CONTAINER")
	flags.Lookup("login").NoOptDefVal = loginAny
	flags.IntSliceVarP(&f.ports, "port", "p", nil, "host port to publish (repeatable, default 8080-8082)")
	flags.BoolVarP(&f.stop, "stop", "S", false, "stop running session containers")
	flags.StringVarP(&f.tag, "tag", "t", "", "image tag to start instead of the configured one")
	flags.BoolVarP(&f.update, "update", "u", false, "update the image and exit")
	flags.StringVar(&f.image, "image", "", "image repository[:tag] to start")
	flags.BoolVarP(&f.verbose, "verbose", "V", false, "log engine and registry calls")

	root.AddCommand(newConfigCmd())
	return root
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialise the devshell settings file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, file, err := configstore.GetConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), file)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [DIRECTORY]",
		Short: "Print the effective settings for DIRECTORY",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := workspaceArg(cliFlags{}, args)
			if err != nil {
				return err
			}
			settings, err := configstore.Resolve(dir)
			if err != nil {
				return err
			}
			return configstore.Encode(cmd.OutOrStdout(), settings)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default settings file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, file, err := configstore.GetConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(file); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", file)
				return nil
			}
			if err := configstore.Save(configstore.New()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", file)
			return nil
		},
	})
	return cmd
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
