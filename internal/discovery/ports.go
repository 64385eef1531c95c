package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/strongdm/devshell/internal/engine"
)

// PortMapping lists host-to-container port bindings such as
// "0.0.0.0:8080->8080/tcp".
type PortMapping []string

func (p PortMapping) String() string {
	return strings.Join(p, ", ")
}

// Ports returns the published ports of the container behind h.
func (l *Lister) Ports(ctx context.Context, h engine.Handle) (PortMapping, error) {
	out, err := l.Engine.Output(ctx, "ps",
		"--filter", "id="+h.ID,
		"--format", "{{.Ports}}",
		"--no-trunc",
	)
	if err != nil {
		return nil, fmt.Errorf("list ports for %s: %w", h.ID, err)
	}
	return ParsePorts(out), nil
}

// ParsePorts splits the engine's Ports column and drops the IPv6 duplicate of
// every binding.
func ParsePorts(raw string) PortMapping {
	var mapping PortMapping
	for _, line := range strings.Split(raw, "\n") {
		for _, entry := range strings.Split(line, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" || strings.HasPrefix(entry, ":::") || strings.HasPrefix(entry, "[::]:") {
				continue
			}
			mapping = append(mapping, entry)
		}
	}
	return mapping
}
