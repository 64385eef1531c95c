package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/strongdm/devshell/internal/engine"
)

// LocalClient reads the digest of the locally pulled image through the engine.
type LocalClient struct {
	Engine engine.Runner
}

// LocalDigest returns the repo digest recorded when the image was pulled.
// ErrNotFound is returned when the image is absent or was never pulled from a
// registry; other failures are returned wrapped.
func (c *LocalClient) LocalDigest(ctx context.Context, ref Reference) (digest.Digest, error) {
	out, err := c.Engine.Output(ctx, "image", "inspect", "--format", "{{json .RepoDigests}}", ref.String())
	if err != nil {
		if engine.IsNoSuchObject(err) {
			return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return "", fmt.Errorf("inspect %s: %w", ref, err)
	}

	var repoDigests []string
	trimmed := strings.TrimSpace(out)
	if trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal([]byte(trimmed), &repoDigests); err != nil {
			return "", fmt.Errorf("parse repo digests for %s: %w", ref, err)
		}
	}
	return pickRepoDigest(ref, repoDigests)
}

func pickRepoDigest(ref Reference, repoDigests []string) (digest.Digest, error) {
	var chosen string
	for _, entry := range repoDigests {
		name, _, ok := strings.Cut(entry, "@")
		if !ok {
			continue
		}
		if chosen == "" {
			chosen = entry
		}
		if name == ref.Repository {
			chosen = entry
			break
		}
	}
	if chosen == "" {
		return "", fmt.Errorf("%s has no repo digest: %w", ref, ErrNotFound)
	}
	_, raw, _ := strings.Cut(chosen, "@")
	d, err := digest.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse local digest %q: %w", raw, err)
	}
	return d, nil
}
