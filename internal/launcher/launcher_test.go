package launcher

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/strongdm/devshell/internal/engine"
	"github.com/strongdm/devshell/internal/engine/enginetest"
	"github.com/strongdm/devshell/internal/mounts"
	"github.com/strongdm/devshell/internal/registry"
)

var testImage = registry.Reference{Repository: "ghcr.io/strongdm/coder", Tag: "latest"}

func fixedID() string { return "session-1" }

func portConflict(args []string) error {
	return &engine.CommandError{
		Args:   args,
		Stderr: "docker: Error response from daemon: driver failed programming external connectivity: Bind for 0.0.0.0:8080 failed: port is already allocated.",
		Err:    errors.New("exit status 125"),
	}
}

func TestValidatePorts(t *testing.T) {
	t.Parallel()

	for _, p := range []int{1024, 8080, 65535} {
		if err := ValidatePorts([]int{p}); err != nil {
			t.Fatalf("ValidatePorts(%d) returned error: %v", p, err)
		}
	}
	for _, p := range []int{-1, 0, 80, 1023, 65536, 100000} {
		if err := ValidatePorts([]int{p}); !errors.Is(err, ErrInvalidPort) {
			t.Fatalf("ValidatePorts(%d) = %v, want ErrInvalidPort", p, err)
		}
	}
}

func TestPortSpecsBindEachPortToItself(t *testing.T) {
	t.Parallel()

	exposed, bindings, err := portSpecs([]int{8082, 4000, 8082})
	if err != nil {
		t.Fatalf("portSpecs: %v", err)
	}
	if len(exposed) != 2 || exposed[0].Int() != 4000 || exposed[1].Int() != 8082 {
		t.Fatalf("exposed = %v, want sorted and deduplicated", exposed)
	}
	for _, port := range exposed {
		b := bindings[port]
		if len(b) != 1 || b[0].HostPort != port.Port() || b[0].HostIP != "" {
			t.Fatalf("bindings[%s] = %+v", port, b)
		}
	}

	want := []string{"--publish", "4000:4000", "--publish", "8082:8082"}
	if got := publishArgs(exposed, bindings); !reflect.DeepEqual(got, want) {
		t.Fatalf("publishArgs = %v, want %v", got, want)
	}
	want = []string{"--publish-all", "--expose", "4000", "--expose", "8082"}
	if got := publishAllArgs(exposed); !reflect.DeepEqual(got, want) {
		t.Fatalf("publishAllArgs = %v, want %v", got, want)
	}
}

func TestLaunchRejectsInvalidPortsBeforeEngine(t *testing.T) {
	t.Parallel()

	fake := &enginetest.Fake{}
	l := &Launcher{Engine: fake}
	_, err := l.Launch(context.Background(), Request{
		Image:     testImage,
		Workspace: mounts.Spec{HostPath: "/tmp/proj", ContainerPath: "/mnt"},
		Ports:     []int{8080, 1023},
	})
	if !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Fatalf("engine was called: %#v", fake.Calls())
	}
}

func TestLaunchDefaults(t *testing.T) {
	t.Parallel()

	fake := &enginetest.Fake{OutputFn: func(ctx context.Context, args []string) (string, error) {
		if args[0] == "run" {
			return "abc123\n", nil
		}
		return "", nil
	}}
	l := &Launcher{Engine: fake, NewSessionID: fixedID}

	h, err := l.Launch(context.Background(), Request{
		Image:     testImage,
		Workspace: mounts.Spec{HostPath: "/tmp/proj", ContainerPath: "/mnt"},
		Dotfiles:  []mounts.Spec{{HostPath: "/home/u/.bashrc", ContainerPath: "/home/ubuntu/.bashrc", ReadOnly: true}},
		Env:       map[string]string{"TZ": "UTC", "LANG": "C.UTF-8"},
	})
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	if h.ID != "abc123" {
		t.Fatalf("handle = %q", h.ID)
	}

	runs := fake.Find("run")
	if len(runs) != 1 {
		t.Fatalf("expected one run call, got %d", len(runs))
	}
	want := []string{
		"run", "--detach", "--interactive", "--tty", "--rm",
		"--security-opt", "seccomp=unconfined",
		"--label", "devshell=session-1",
		"--volume", "/tmp/proj:/mnt",
		"--volume", "/home/u/.bashrc:/home/ubuntu/.bashrc:ro",
		"--workdir", "/mnt",
		"--env", "LANG=C.UTF-8",
		"--env", "TZ=UTC",
		"--publish", "8080:8080",
		"--publish", "8081:8081",
		"--publish", "8082:8082",
		"ghcr.io/strongdm/coder:latest",
		"bash", "--login",
	}
	if !reflect.DeepEqual(runs[0].Args, want) {
		t.Fatalf("run args mismatch\n got: %s\nwant: %s", enginetest.Joined(runs[0].Args), enginetest.Joined(want))
	}
	if fake.Count("exec") != 0 {
		t.Fatalf("no helper requested, but exec was called")
	}
}

func TestLaunchFallsBackToPublishAll(t *testing.T) {
	t.Parallel()

	attempt := 0
	fake := &enginetest.Fake{OutputFn: func(ctx context.Context, args []string) (string, error) {
		if args[0] != "run" {
			return "", nil
		}
		attempt++
		if attempt == 1 {
			return "", portConflict(args)
		}
		return "def456", nil
	}}
	l := &Launcher{Engine: fake, NewSessionID: fixedID}

	h, err := l.Launch(context.Background(), Request{
		Image:     testImage,
		Workspace: mounts.Spec{HostPath: "/tmp/proj", ContainerPath: "/mnt"},
		Ports:     []int{4000, 4000},
		Command:   JekyllCommand(),
	})
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	if h.ID != "def456" {
		t.Fatalf("handle = %q", h.ID)
	}

	runs := fake.Find("run")
	if len(runs) != 2 {
		t.Fatalf("expected two run attempts, got %d", len(runs))
	}
	first, second := runs[0].Args, runs[1].Args
	if !enginetest.HasArgPair(first, "--publish", "4000:4000") || strings.Count(enginetest.Joined(first), "--publish") != 1 {
		t.Fatalf("first attempt should publish each port once: %s", enginetest.Joined(first))
	}
	if !enginetest.HasArg(second, "--publish-all") || !enginetest.HasArgPair(second, "--expose", "4000") {
		t.Fatalf("second attempt should publish all: %s", enginetest.Joined(second))
	}
	if enginetest.HasArg(second, "--publish") {
		t.Fatalf("second attempt must not bind fixed ports: %s", enginetest.Joined(second))
	}
	tail := second[len(second)-3:]
	if !reflect.DeepEqual(tail, []string{"--login", "-c", "bundle install && bundle exec jekyll serve --host 0.0.0.0 --port 8080"}) {
		t.Fatalf("unexpected command tail %q", tail)
	}
}

func TestLaunchFailsOnOtherErrors(t *testing.T) {
	t.Parallel()

	fake := &enginetest.Fake{OutputFn: func(ctx context.Context, args []string) (string, error) {
		return "", &engine.CommandError{Args: args, Stderr: "Unable to find image", Err: errors.New("exit status 125")}
	}}
	l := &Launcher{Engine: fake}
	_, err := l.Launch(context.Background(), Request{
		Image:     testImage,
		Workspace: mounts.Spec{HostPath: "/tmp/proj", ContainerPath: "/mnt"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.Count("run") != 1 {
		t.Fatalf("non port-conflict failures must not retry, got %d runs", fake.Count("run"))
	}
}

func TestLaunchFailsWhenFallbackFails(t *testing.T) {
	t.Parallel()

	fake := &enginetest.Fake{OutputFn: func(ctx context.Context, args []string) (string, error) {
		return "", portConflict(args)
	}}
	l := &Launcher{Engine: fake}
	_, err := l.Launch(context.Background(), Request{
		Image:     testImage,
		Workspace: mounts.Spec{HostPath: "/tmp/proj", ContainerPath: "/mnt"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.Count("run") != 2 {
		t.Fatalf("expected exactly one retry, got %d runs", fake.Count("run"))
	}
}

func TestLaunchHelperFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	fake := &enginetest.Fake{OutputFn: func(ctx context.Context, args []string) (string, error) {
		switch args[0] {
		case "run":
			return "abc123", nil
		case "exec":
			return "", errors.New("dockerd: not found")
		}
		return "", nil
	}}
	l := &Launcher{Engine: fake}
	h, err := l.Launch(context.Background(), Request{
		Image:     testImage,
		Workspace: mounts.Spec{HostPath: "/tmp/proj", ContainerPath: "/mnt"},
		Helper:    DefaultHelper,
	})
	if err != nil {
		t.Fatalf("helper failure leaked: %v", err)
	}
	if h.ID != "abc123" {
		t.Fatalf("handle = %q", h.ID)
	}
	execs := fake.Find("exec")
	want := []string{"exec", "--detach", "--privileged", "--user", "root", "abc123", "dockerd"}
	if len(execs) != 1 || !reflect.DeepEqual(execs[0].Args, want) {
		t.Fatalf("unexpected exec calls %#v", execs)
	}
}

func TestLaunchLabelValueIsUnique(t *testing.T) {
	t.Parallel()

	fake := &enginetest.Fake{OutputFn: func(ctx context.Context, args []string) (string, error) {
		return "id", nil
	}}
	l := &Launcher{Engine: fake}
	req := Request{Image: testImage, Workspace: mounts.Spec{HostPath: "/tmp/proj", ContainerPath: "/mnt"}, Label: "custom"}
	for i := 0; i < 2; i++ {
		if _, err := l.Launch(context.Background(), req); err != nil {
			t.Fatalf("Launch returned error: %v", err)
		}
	}
	runs := fake.Find("run")
	labelOf := func(args []string) string {
		for i := 0; i+1 < len(args); i++ {
			if args[i] == "--label" {
				return args[i+1]
			}
		}
		return ""
	}
	a, b := labelOf(runs[0].Args), labelOf(runs[1].Args)
	if !strings.HasPrefix(a, "custom=") || a == b {
		t.Fatalf("labels = %q, %q", a, b)
	}
}
