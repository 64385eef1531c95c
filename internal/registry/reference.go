package registry

import (
	"fmt"
	"strings"
)

const (
	defaultTag      = "latest"
	dockerHubHost   = "docker.io"
	dockerHubAPI    = "registry-1.docker.io"
	officialLibrary = "library"
)

// Reference names the single image devshell manages.
type Reference struct {
	Repository string
	Tag        string
}

// ParseReference splits "repo[:tag]". A missing tag means "latest"; digests
// are rejected because freshness is only meaningful for tags.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, fmt.Errorf("image reference must not be empty")
	}
	if strings.Contains(raw, "@") {
		return Reference{}, fmt.Errorf("image reference %q: digests are not supported, use a tag", raw)
	}
	repo, tag := raw, defaultTag
	// A colon after the last slash separates the tag; earlier colons belong to a registry port.
	if i := strings.LastIndex(raw, ":"); i > strings.LastIndex(raw, "/") {
		repo, tag = raw[:i], raw[i+1:]
	}
	if repo == "" || tag == "" {
		return Reference{}, fmt.Errorf("image reference %q is malformed", raw)
	}
	return Reference{Repository: repo, Tag: tag}, nil
}

// WithTag returns a copy of r using tag, keeping r's tag when tag is blank.
func (r Reference) WithTag(tag string) Reference {
	if strings.TrimSpace(tag) != "" {
		r.Tag = strings.TrimSpace(tag)
	}
	return r
}

func (r Reference) String() string {
	tag := r.Tag
	if tag == "" {
		tag = defaultTag
	}
	return r.Repository + ":" + tag
}

// Host returns the registry host, "docker.io" for Docker Hub names.
func (r Reference) Host() string {
	first, _, found := strings.Cut(r.Repository, "/")
	if !found {
		return dockerHubHost
	}
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first
	}
	return dockerHubHost
}

// Path returns the repository path inside its registry, adding the implicit
// "library/" namespace for official Docker Hub images.
func (r Reference) Path() string {
	host := r.Host()
	path := r.Repository
	if strings.HasPrefix(path, host+"/") {
		path = strings.TrimPrefix(path, host+"/")
	}
	if host == dockerHubHost && !strings.Contains(path, "/") {
		path = officialLibrary + "/" + path
	}
	return path
}

// apiHost maps the logical registry host to the host serving the v2 API.
func (r Reference) apiHost() string {
	if r.Host() == dockerHubHost {
		return dockerHubAPI
	}
	return r.Host()
}
