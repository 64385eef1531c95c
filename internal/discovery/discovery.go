// Package discovery lists the session containers that are already running.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/strongdm/devshell/internal/engine"
)

// ErrNoContainers is what callers report when a listing they need is empty.
// List itself never returns it.
var ErrNoContainers = errors.New("no running containers")

const listFormat = "{{.ID}}\t{{.Image}}\t{{.RunningFor}}\t{{.Status}}\t{{.Mounts}}"

var anonymousVolume = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Prefixes that Docker Desktop style VMs put in front of host paths.
var hostMountPrefixes = []string{
	"/run/desktop/mnt/host",
	"/host_mnt",
}

// Record is one row of the engine's container listing.
type Record struct {
	ID         string
	Image      string
	RunningFor string
	Status     string
	Mounts     []string
}

// Handle returns the container handle for r.
func (r Record) Handle() engine.Handle {
	return engine.Handle{ID: r.ID}
}

// Filter selects containers either by label key or by image.
type Filter struct {
	Label string
	Image string
}

func (f Filter) arg() (string, error) {
	switch {
	case f.Label != "" && f.Image != "":
		return "", fmt.Errorf("filter by label or by image, not both")
	case f.Label != "":
		return "label=" + f.Label, nil
	case f.Image != "":
		return "ancestor=" + f.Image, nil
	default:
		return "", fmt.Errorf("empty container filter")
	}
}

// Lister queries the engine on every call; nothing is cached.
type Lister struct {
	Engine engine.Runner
}

// List returns the running containers matching f, in engine order.
func (l *Lister) List(ctx context.Context, f Filter) ([]Record, error) {
	filter, err := f.arg()
	if err != nil {
		return nil, err
	}
	out, err := l.Engine.Output(ctx, "ps",
		"--all",
		"--filter", "status=running",
		"--filter", filter,
		"--format", listFormat,
		"--no-trunc",
	)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return ParseRecords(out), nil
}

// ParseRecords parses tab-separated listing output. Lines with fewer than four
// columns are skipped.
func ParseRecords(out string) []Record {
	var records []Record
	for _, line := range strings.Split(strings.TrimRight(out, "\r\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 5)
		if len(fields) < 4 {
			continue
		}
		rec := Record{
			ID:         strings.TrimSpace(fields[0]),
			Image:      strings.TrimSpace(fields[1]),
			RunningFor: strings.ToLower(strings.TrimSpace(fields[2])),
			Status:     strings.ToLower(strings.TrimSpace(fields[3])),
		}
		if len(fields) == 5 {
			rec.Mounts = parseMounts(fields[4])
		}
		records = append(records, rec)
	}
	return records
}

func parseMounts(raw string) []string {
	var mounts []string
	for _, m := range strings.Split(raw, ",") {
		m = strings.TrimSpace(m)
		if m == "" || anonymousVolume.MatchString(m) {
			continue
		}
		mounts = append(mounts, normalizeHostPath(m))
	}
	return mounts
}

func normalizeHostPath(p string) string {
	for _, prefix := range hostMountPrefixes {
		if strings.HasPrefix(p, prefix+"/") {
			return strings.TrimPrefix(p, prefix)
		}
	}
	return p
}

// JoinMounts renders mounts as an English list: "a", "a and b", "a, b, and c".
func JoinMounts(mounts []string) string {
	switch len(mounts) {
	case 0:
		return ""
	case 1:
		return mounts[0]
	case 2:
		return mounts[0] + " and " + mounts[1]
	default:
		return strings.Join(mounts[:len(mounts)-1], ", ") + ", and " + mounts[len(mounts)-1]
	}
}
