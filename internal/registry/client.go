// Package registry queries the SDK artifact registry for published versions.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/kiranshivaraju/sdkqual/pkg/sdk"
)

// Sentinel errors for registry client failures.
var (
	ErrRegistryUnreachable = errors.New("artifact registry unreachable")
	ErrRegistryTimeout     = errors.New("artifact registry timeout")
	ErrRegistryResponse    = errors.New("artifact registry returned an unexpected response")
	// ErrNoVersion means the registry listed no artifact for the query.
	ErrNoVersion = errors.New("no sdk artifact version found")
)

// Client is the interface for the artifact registry.
type Client interface {
	LatestVersion(ctx context.Context, namespace, v4Version, branch string) (string, error)
}

// HTTPClient implements Client using the registry's REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a registry client rooted at the namespaces endpoint.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: hc}
}

// RegistryBranch maps a PC branch onto the registry's branch name. The
// registry publishes master builds under main.
func RegistryBranch(branch string) string {
	if branch == "master" {
		return "main"
	}
	return branch
}

// VersionsURL returns the artifact-versions query URL.
func (c *HTTPClient) VersionsURL(namespace, v4Version, branch string) string {
	params := url.Values{"branchName": {RegistryBranch(branch)}}
	return fmt.Sprintf("%s/%s/versions/%s/artifact-versions?%s",
		c.baseURL, url.PathEscape(namespace), url.PathEscape(v4Version), params.Encode())
}

// LatestVersion returns the newest SDK version, build suffix stripped, for the
// namespace, v4 version and branch. It returns ErrNoVersion when the registry
// lists nothing.
func (c *HTTPClient) LatestVersion(ctx context.Context, namespace, v4Version, branch string) (string, error) {
	u := c.VersionsURL(namespace, v4Version, branch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("artifact registry has no such namespace, version or branch; check --namespace, --v4-version and --branch",
			"url", u)
		return "", fmt.Errorf("%w: %s", ErrNoVersion, u)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrRegistryResponse, resp.StatusCode)
	}

	var body versionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decoding versions: %v", ErrRegistryResponse, err)
	}

	if len(body.Versions) == 0 || body.Versions[0].ArtifactVersion == "" {
		slog.Warn("unable to fetch sdk version; check --namespace, --v4-version and --branch",
			"url", u)
		return "", fmt.Errorf("%w: %s", ErrNoVersion, u)
	}

	version := sdk.VersionFromArtifact(body.Versions[0].ArtifactVersion)
	slog.Info("latest sdk version found", "namespace", namespace, "version", version,
		"artifact_version", body.Versions[0].ArtifactVersion)
	return version, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrRegistryTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrRegistryTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
}

type versionsResponse struct {
	Versions []struct {
		ArtifactVersion string `json:"artifact_version"`
	} `json:"versions"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
