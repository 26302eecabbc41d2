package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"shellpm/internal/config"
)

const maxAttempts = 5

// GitHubReleases talks to the GitHub REST API (or a compatible endpoint).
type GitHubReleases struct {
	client *http.Client
	apiURL string
	token  string
}

func NewGitHubReleases(client *http.Client, apiURL, token string) *GitHubReleases {
	if client == nil {
		client = http.DefaultClient
	}
	return &GitHubReleases{client: client, apiURL: strings.TrimRight(apiURL, "/"), token: token}
}

// ReleasesFromConfig reads the API token from the environment variable the
// config names.
func ReleasesFromConfig(client *http.Client, cfg config.Config) *GitHubReleases {
	var token string
	if cfg.GitHub.TokenEnv != "" {
		token = os.Getenv(cfg.GitHub.TokenEnv)
	}
	return NewGitHubReleases(client, cfg.GitHub.APIURL, token)
}

func (p *GitHubReleases) Release(ctx context.Context, id, tag string) (Release, error) {
	endpoint := p.apiURL + "/repos/" + id + "/releases/latest"
	if tag != "" {
		endpoint = p.apiURL + "/repos/" + id + "/releases/tags/" + url.PathEscape(tag)
	}
	resp, err := p.get(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		return Release{}, fmt.Errorf("SRC_RELEASE: %s: %w", id, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Release{}, fmt.Errorf("SRC_RELEASE: %s: release %q: %w", id, displayTag(tag), ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return Release{}, fmt.Errorf("SRC_RELEASE: %s: unexpected status %d", id, resp.StatusCode)
	}
	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Release{}, fmt.Errorf("SRC_RELEASE: %s: decode: %w", id, err)
	}
	return rel, nil
}

func (p *GitHubReleases) Download(ctx context.Context, asset Asset, dir, binName string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("SRC_DOWNLOAD: %w", err)
	}
	tmp, err := p.fetchToTemp(ctx, asset, dir)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := Unpack(tmp, asset.Name, dir, binName); err != nil {
		return fmt.Errorf("SRC_DOWNLOAD: %s: %w", asset.Name, err)
	}
	return nil
}

func (p *GitHubReleases) fetchToTemp(ctx context.Context, asset Asset, dir string) (string, error) {
	resp, err := p.get(ctx, asset.URL, "application/octet-stream")
	if err != nil {
		return "", fmt.Errorf("SRC_DOWNLOAD: %s: %w", asset.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("SRC_DOWNLOAD: %s: %w", asset.Name, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("SRC_DOWNLOAD: %s: unexpected status %d", asset.Name, resp.StatusCode)
	}
	f, err := os.CreateTemp(dir, ".asset-*")
	if err != nil {
		return "", fmt.Errorf("SRC_DOWNLOAD: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("SRC_DOWNLOAD: %s: %w", asset.Name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("SRC_DOWNLOAD: %w", err)
	}
	return f.Name(), nil
}

// get retries transport errors, 429 and 5xx with exponential backoff, honoring
// Retry-After. The caller owns the response body.
func (p *GitHubReleases) get(ctx context.Context, fullURL, accept string) (*http.Response, error) {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", "shellpm/"+config.Version)
		if p.token != "" {
			req.Header.Set("Authorization", "Bearer "+p.token)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			if waitErr := sleepCtx(ctx, time.Duration(1<<i)*500*time.Millisecond); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && i < maxAttempts-1 {
			wait := parseRetryAfter(resp.Header.Get("Retry-After"), i)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if waitErr := sleepCtx(ctx, wait); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return resp, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("request failed")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRetryAfter(value string, attempt int) time.Duration {
	defaultBackoff := time.Duration(1<<attempt) * 500 * time.Millisecond
	if value == "" {
		return defaultBackoff
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return defaultBackoff
	}
	if secs > 10 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

func displayTag(tag string) string {
	if tag == "" {
		return "latest"
	}
	return tag
}
