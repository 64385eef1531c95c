package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/strongdm/devshell/internal/telemetry/otel"
)

// DefaultTimeout bounds each registry round trip.
const DefaultTimeout = 10 * time.Second

const userAgent = "devshell"

var manifestMediaTypes = []string{
	"application/vnd.docker.distribution.manifest.list.v2+json",
	"application/vnd.oci.image.index.v1+json",
	"application/vnd.docker.distribution.manifest.v2+json",
	"application/vnd.oci.image.manifest.v1+json",
}

// RemoteDigester resolves the digest a tag currently points to upstream.
// Every failure is reported as ErrUnavailable.
type RemoteDigester interface {
	RemoteDigest(ctx context.Context, ref Reference) (digest.Digest, error)
}

// ManifestClient talks the registry v2 API: it obtains a pull-scoped bearer
// token and reads Docker-Content-Digest from a manifest HEAD.
type ManifestClient struct {
	HTTPClient  *http.Client
	Instruments *otel.CommandInstruments
	// Endpoint overrides the registry base URL (scheme://host); empty derives
	// it from the reference.
	Endpoint string
}

var _ RemoteDigester = (*ManifestClient)(nil)

// RemoteDigest implements RemoteDigester.
func (c *ManifestClient) RemoteDigest(ctx context.Context, ref Reference) (d digest.Digest, err error) {
	h, ctx := c.Instruments.Start(ctx, otel.CommandInfo{Kind: otel.KindRegistry, Operation: "manifest", Target: ref.String()})
	defer func() { c.Instruments.Finish(h, err) }()

	base := c.baseURL(ref)
	token, err := c.token(ctx, base, ref)
	if err != nil {
		return "", unavailable(err)
	}

	manifestURL := fmt.Sprintf("%s/v2/%s/manifests/%s", base, ref.Path(), url.PathEscape(ref.Tag))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestURL, nil)
	if err != nil {
		return "", unavailable(err)
	}
	req.Header.Set("Accept", strings.Join(manifestMediaTypes, ", "))
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient(c.HTTPClient).Do(req)
	if err != nil {
		return "", unavailable(err)
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", unavailable(fmt.Errorf("manifest %s: unexpected status %s", ref, resp.Status))
	}

	raw := strings.TrimSpace(resp.Header.Get("Docker-Content-Digest"))
	parsed, err := digest.Parse(raw)
	if err != nil {
		return "", unavailable(fmt.Errorf("manifest %s: bad Docker-Content-Digest %q: %w", ref, raw, err))
	}
	return parsed, nil
}

func (c *ManifestClient) baseURL(ref Reference) string {
	if strings.TrimSpace(c.Endpoint) != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	return "https://" + ref.apiHost()
}

// token follows the registry's auth challenge. Registries that answer /v2/
// without a challenge allow anonymous pulls and get an empty token.
func (c *ManifestClient) token(ctx context.Context, base string, ref Reference) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v2/", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := httpClient(c.HTTPClient).Do(req)
	if err != nil {
		return "", err
	}
	drain(resp)

	if resp.StatusCode != http.StatusUnauthorized {
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return "", nil
		}
		return "", fmt.Errorf("ping %s: unexpected status %s", base, resp.Status)
	}

	challenge, err := parseBearerChallenge(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		return "", err
	}

	q := url.Values{}
	if challenge.service != "" {
		q.Set("service", challenge.service)
	}
	q.Set("scope", fmt.Sprintf("repository:%s:pull", ref.Path()))
	tokenURL := challenge.realm + "?" + q.Encode()

	treq, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", err
	}
	treq.Header.Set("User-Agent", userAgent)
	tresp, err := httpClient(c.HTTPClient).Do(treq)
	if err != nil {
		return "", err
	}
	defer drain(tresp)
	if tresp.StatusCode < 200 || tresp.StatusCode > 299 {
		return "", fmt.Errorf("token %s: unexpected status %s", challenge.realm, tresp.Status)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(tresp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Token != "" {
		return body.Token, nil
	}
	if body.AccessToken != "" {
		return body.AccessToken, nil
	}
	return "", fmt.Errorf("token response from %s carried no token", challenge.realm)
}

// IndexClient reads the digest from Docker Hub's tag metadata instead of the
// raw registry.
type IndexClient struct {
	HTTPClient  *http.Client
	Instruments *otel.CommandInstruments
	// BaseURL defaults to https://hub.docker.com.
	BaseURL string
}

var _ RemoteDigester = (*IndexClient)(nil)

// RemoteDigest implements RemoteDigester.
func (c *IndexClient) RemoteDigest(ctx context.Context, ref Reference) (d digest.Digest, err error) {
	h, ctx := c.Instruments.Start(ctx, otel.CommandInfo{Kind: otel.KindRegistry, Operation: "index", Target: ref.String()})
	defer func() { c.Instruments.Finish(h, err) }()

	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = "https://hub.docker.com"
	}
	tagURL := fmt.Sprintf("%s/v2/repositories/%s/tags/%s", base, ref.Path(), url.PathEscape(ref.Tag))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagURL, nil)
	if err != nil {
		return "", unavailable(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient(c.HTTPClient).Do(req)
	if err != nil {
		return "", unavailable(err)
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", unavailable(fmt.Errorf("tag %s: unexpected status %s", ref, resp.Status))
	}

	var meta struct {
		Digest string `json:"digest"`
		Images []struct {
			Digest string `json:"digest"`
		} `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", unavailable(fmt.Errorf("decode tag metadata for %s: %w", ref, err))
	}

	raw := meta.Digest
	if raw == "" && len(meta.Images) > 0 {
		raw = meta.Images[0].Digest
	}
	parsed, err := digest.Parse(raw)
	if err != nil {
		return "", unavailable(fmt.Errorf("tag %s: bad digest %q: %w", ref, raw, err))
	}
	return parsed, nil
}

type bearerChallenge struct {
	realm   string
	service string
}

func parseBearerChallenge(header string) (bearerChallenge, error) {
	header = strings.TrimSpace(header)
	scheme, params, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return bearerChallenge{}, fmt.Errorf("unsupported auth challenge %q", header)
	}

	var ch bearerChallenge
	for _, part := range splitChallengeParams(params) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "realm":
			ch.realm = value
		case "service":
			ch.service = value
		}
	}
	if ch.realm == "" {
		return bearerChallenge{}, fmt.Errorf("auth challenge %q has no realm", header)
	}
	return ch, nil
}

// splitChallengeParams splits on commas outside quoted values.
func splitChallengeParams(s string) []string {
	var parts []string
	var cur strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
