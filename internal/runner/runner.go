// Package runner drives one devshell invocation: it checks the engine, then
// stops sessions, refreshes the image, or launches or rejoins a session
// container and hands the terminal to it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/strongdm/devshell/internal/configstore"
	"github.com/strongdm/devshell/internal/discovery"
	"github.com/strongdm/devshell/internal/engine"
	"github.com/strongdm/devshell/internal/freshness"
	"github.com/strongdm/devshell/internal/launcher"
	"github.com/strongdm/devshell/internal/mounts"
	"github.com/strongdm/devshell/internal/registry"
	"github.com/strongdm/devshell/internal/session"
	"github.com/strongdm/devshell/internal/telemetry/otel"
	"golang.org/x/term"
)

// ExitCodeError carries the exit status the process should end with. The
// session's own non-zero status is returned this way, as is an interrupt that
// arrives before the terminal was handed over.
type ExitCodeError struct {
	code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exited with code %d", e.code)
}

func (e *ExitCodeError) ExitCode() int {
	return e.code
}

// LoginMode selects whether a run launches a new session or rejoins one.
type LoginMode int

const (
	// LoginNone launches a new session container.
	LoginNone LoginMode = iota
	// LoginAny offers every running session, one at a time.
	LoginAny
	// LoginContainer logs straight into Options.LoginContainer.
	LoginContainer
)

// ForwardedEnv lists host variables copied into the session when set.
var ForwardedEnv = []string{"TZ", "LANG", "LC_ALL"}

// Options is the validated configuration of one invocation. The CLI builds it
// once; nothing below mutates it.
type Options struct {
	Image     registry.Reference
	Workspace string
	Home      string
	Dotfiles  []string
	Ports     []int
	Env       map[string]string
	// Command defaults to launcher.DefaultCommand.
	Command []string
	// Helper is started privileged after launch; empty skips it.
	Helper []string
	Label  string

	ContainerHome      string
	ContainerWorkspace string

	OnStale         freshness.OnStale
	RegistrySource  string
	RegistryTimeout time.Duration

	Fast   bool
	Update bool
	Stop   bool

	Login          LoginMode
	LoginContainer string

	Verbose bool
}

// Validate rejects combinations no run can satisfy.
func (o Options) Validate() error {
	if o.Fast && o.Update {
		return errors.New("cannot use -f/--fast and -u/--update together")
	}
	if o.Login == LoginContainer && o.LoginContainer == "" {
		return errors.New("login requires a container id")
	}
	if o.Image.Repository == "" {
		return errors.New("image repository is required")
	}
	switch o.RegistrySource {
	case "", configstore.SourceManifest, configstore.SourceIndex:
	default:
		return fmt.Errorf("unknown registry source %q", o.RegistrySource)
	}
	return launcher.ValidatePorts(o.Ports)
}

type runner struct {
	opts Options

	engine   engine.Runner
	probe    func(ctx context.Context) error
	checker  freshness.Checker
	puller   freshness.Puller
	prompter session.Prompter
	// askPull is false when nobody can answer a pull question; stale images
	// are then pulled without asking.
	askPull bool
	streams engine.Streams
	getenv  func(string) string

	// interrupts scopes the pre-attach interrupt handler.
	interrupts       func(parent context.Context) (context.Context, context.CancelFunc)
	attachInterrupts func(parent context.Context) (context.Context, context.CancelFunc)
	termSize         func() (int, int)
	newSessionID     func() string

	logger  *log.Logger
	verbose bool
}

// Run executes one invocation against the local docker CLI.
func Run(ctx context.Context, opts Options) error {
	logger := log.New(os.Stderr, "", 0)

	provider, err := otel.Setup(ctx, otel.LoadConfigFromEnv())
	if err != nil {
		logger.Printf("telemetry disabled: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil && opts.Verbose {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	r := newRunner(opts, provider.Commands(), logger)
	return r.run(ctx)
}

func newRunner(opts Options, instruments *otel.CommandInstruments, logger *log.Logger) *runner {
	docker := &engine.DockerRunner{Instruments: instruments, Logger: logger, Verbose: opts.Verbose}
	streams := engine.StdStreams()

	timeout := opts.RegistryTimeout
	if timeout <= 0 {
		timeout = registry.DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	var remote registry.RemoteDigester = &registry.ManifestClient{HTTPClient: client, Instruments: instruments}
	if opts.RegistrySource == configstore.SourceIndex {
		remote = &registry.IndexClient{HTTPClient: client, Instruments: instruments}
	}

	return &runner{
		opts:   opts,
		engine: docker,
		probe:  docker.Probe,
		checker: &freshness.Resolver{
			Local:   &registry.LocalClient{Engine: docker},
			Remote:  remote,
			Policy:  freshness.Policy{OnStale: opts.OnStale},
			Logger:  logger,
			Verbose: opts.Verbose,
		},
		puller:     &freshness.EnginePuller{Engine: docker, Streams: streams},
		prompter:   session.NewPrompter(streams.In, streams.Out),
		askPull:    term.IsTerminal(int(os.Stdin.Fd())),
		streams:    streams,
		getenv:     os.Getenv,
		interrupts: notifyInterrupts,
		logger:     logger,
		verbose:    opts.Verbose,
	}
}

func (r *runner) run(ctx context.Context) error {
	if err := r.opts.Validate(); err != nil {
		return err
	}
	if err := r.probe(ctx); err != nil {
		return err
	}

	phaseCtx, release := r.notify(ctx)
	defer release()

	var (
		h      engine.Handle
		attach bool
		err    error
	)
	switch {
	case r.opts.Login != LoginNone:
		h, attach, err = r.chooseContainer(phaseCtx)
	case r.opts.Stop:
		err = r.stop(phaseCtx)
	case r.opts.Update:
		err = r.refresh(phaseCtx, false)
	default:
		h, err = r.launch(phaseCtx)
		attach = err == nil
	}
	if (phaseCtx.Err() != nil || errors.Is(err, context.Canceled)) && ctx.Err() == nil {
		return &ExitCodeError{code: 1}
	}
	if err != nil {
		return err
	}
	if !attach {
		return nil
	}

	r.printPorts(phaseCtx, h)
	release()

	s := &session.Session{
		Engine:     r.engine,
		Streams:    r.streams,
		Logger:     r.logger,
		Verbose:    r.verbose,
		TermSize:   r.termSize,
		Interrupts: r.attachInterrupts,
	}
	var code int
	if r.opts.Login == LoginNone {
		code, err = s.Attach(ctx, h)
	} else {
		code, err = s.Login(ctx, h)
	}
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitCodeError{code: code}
	}
	return nil
}

// chooseContainer returns the container to log into. attach is false when
// every offered container was declined.
func (r *runner) chooseContainer(ctx context.Context) (engine.Handle, bool, error) {
	if r.opts.Login == LoginContainer {
		return engine.Handle{ID: r.opts.LoginContainer}, true, nil
	}

	lister := &discovery.Lister{Engine: r.engine}
	records, err := lister.List(ctx, discovery.Filter{Label: r.label()})
	if err != nil {
		return engine.Handle{}, false, fmt.Errorf("list containers: %w", err)
	}
	if len(records) == 0 {
		return engine.Handle{}, false, discovery.ErrNoContainers
	}

	for _, rec := range records {
		ok, err := r.prompter.ConfirmLogin(ctx, rec)
		if errors.Is(err, io.EOF) {
			r.debugf("no answer on stdin; not logging in")
			return engine.Handle{}, false, nil
		}
		if err != nil {
			return engine.Handle{}, false, err
		}
		if ok {
			return rec.Handle(), true, nil
		}
	}
	return engine.Handle{}, false, nil
}

func (r *runner) stop(ctx context.Context) error {
	lister := &discovery.Lister{Engine: r.engine}
	n, err := lister.StopAll(ctx, r.label(), r.opts.Image.Repository)
	if err != nil {
		return err
	}
	r.debugf("stopped %d container(s)", n)
	return nil
}

// refresh brings the local image up to date as the freshness policy asks. A
// failed pull is reported and otherwise ignored; only an interrupted prompt
// is returned.
func (r *runner) refresh(ctx context.Context, fast bool) error {
	action, err := r.checker.Resolve(ctx, r.opts.Image, fast)
	if err != nil {
		r.debugf("freshness check failed: %v", err)
		return nil
	}
	var confirm freshness.Confirmer = freshness.AlwaysConfirm
	if r.askPull && r.prompter != nil {
		confirm = r.prompter
	}
	outcome := freshness.Apply(ctx, action, r.opts.Image, confirm, r.puller)
	if outcome.Interrupted {
		return session.ErrInterrupted
	}
	outcome.Report(r.errOut())
	return nil
}

func (r *runner) launch(ctx context.Context) (engine.Handle, error) {
	var opts []mounts.Option
	if r.opts.ContainerHome != "" {
		opts = append(opts, mounts.WithContainerHome(r.opts.ContainerHome))
	}
	if r.opts.ContainerWorkspace != "" {
		opts = append(opts, mounts.WithContainerWorkspace(r.opts.ContainerWorkspace))
	}
	specs, err := mounts.Validate(r.opts.Home, r.opts.Workspace, r.opts.Dotfiles, opts...)
	if err != nil {
		return engine.Handle{}, err
	}

	if err := r.refresh(ctx, r.opts.Fast); err != nil {
		return engine.Handle{}, err
	}

	l := &launcher.Launcher{
		Engine:       r.engine,
		Logger:       r.logger,
		Verbose:      r.verbose,
		NewSessionID: r.newSessionID,
	}
	return l.Launch(ctx, launcher.Request{
		Image:     r.opts.Image,
		Workspace: specs[0],
		Dotfiles:  specs[1:],
		Ports:     r.opts.Ports,
		Env:       r.sessionEnv(),
		Command:   r.opts.Command,
		Label:     r.opts.Label,
		Helper:    r.opts.Helper,
	})
}

// sessionEnv layers the configured environment over the forwarded host
// locale.
func (r *runner) sessionEnv() map[string]string {
	env := make(map[string]string, len(ForwardedEnv)+len(r.opts.Env))
	if r.getenv != nil {
		for _, key := range ForwardedEnv {
			if v := r.getenv(key); v != "" {
				env[key] = v
			}
		}
	}
	for k, v := range r.opts.Env {
		env[k] = v
	}
	return env
}

func (r *runner) printPorts(ctx context.Context, h engine.Handle) {
	lister := &discovery.Lister{Engine: r.engine}
	mapping, err := lister.Ports(ctx, h)
	if err != nil {
		r.debugf("could not read port mappings of %s: %v", h, err)
		return
	}
	if len(mapping) == 0 {
		return
	}
	fmt.Fprintln(r.out(), mapping.String())
}

func (r *runner) notify(parent context.Context) (context.Context, func()) {
	notify := r.interrupts
	if notify == nil {
		notify = notifyInterrupts
	}
	ctx, cancel := notify(parent)
	var once sync.Once
	return ctx, func() { once.Do(cancel) }
}

// notifyInterrupts cancels the returned context on the first interrupt and
// exits on the second, for when the cancelled work does not return.
func notifyInterrupts(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})

	go func() {
		interrupted := false
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				if !interrupted {
					interrupted = true
					cancel()
					continue
				}
				os.Exit(1)
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}

func (r *runner) label() string {
	if r.opts.Label != "" {
		return r.opts.Label
	}
	return launcher.DefaultLabel
}

func (r *runner) out() io.Writer {
	if r.streams.Out == nil {
		return io.Discard
	}
	return r.streams.Out
}

func (r *runner) errOut() io.Writer {
	if r.streams.Err == nil {
		return io.Discard
	}
	return r.streams.Err
}

func (r *runner) debugf(format string, args ...interface{}) {
	if r.verbose && r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
