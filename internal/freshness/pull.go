package freshness

import (
	"context"

	"github.com/strongdm/devshell/internal/engine"
	"github.com/strongdm/devshell/internal/registry"
)

// EnginePuller pulls through the engine with progress written to Streams.
type EnginePuller struct {
	Engine  engine.Runner
	Streams engine.Streams
}

var _ Puller = (*EnginePuller)(nil)

func (p *EnginePuller) Pull(ctx context.Context, ref registry.Reference) error {
	streams := p.Streams
	streams.In = nil
	return p.Engine.Interactive(ctx, streams, "pull", ref.String())
}
