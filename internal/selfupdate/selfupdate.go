package selfupdate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/mod/semver"

	"shellpm/internal/source"
)

const binaryName = "shellpm"

type Result struct {
	Repo       string `json:"repo"`
	Current    string `json:"current"`
	Latest     string `json:"latest"`
	Executable string `json:"executable,omitempty"`
	Updated    bool   `json:"updated"`
}

type Service struct {
	releases source.Releases
	client   *http.Client
	repo     string
	goos     string
	goarch   string
}

func New(releases source.Releases, client *http.Client, repo string) *Service {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Service{releases: releases, client: client, repo: repo, goos: runtime.GOOS, goarch: runtime.GOARCH}
}

// Update replaces the running executable with the latest release of the
// configured repository when that release is newer than current. When the
// release publishes "<asset>.sha256" the download is verified against it.
func (s *Service) Update(ctx context.Context, current string) (Result, error) {
	logger := slogcontext.FromCtx(ctx).With("operation", "self-update", "repo", s.repo)
	res := Result{Repo: s.repo, Current: current}
	rel, err := s.releases.Release(ctx, s.repo, "")
	if err != nil {
		return res, fmt.Errorf("SELF_RELEASE: %w", err)
	}
	res.Latest = rel.Tag
	if !newer(rel.Tag, current) {
		logger.Info("already at latest release", "current", current, "latest", rel.Tag)
		return res, nil
	}

	asset, err := source.SelectAsset(rel.Assets, s.goos, s.goarch)
	if err != nil {
		return res, fmt.Errorf("SELF_ASSET: %s: %w", rel.Tag, err)
	}
	blob, err := s.fetch(ctx, asset.URL)
	if err != nil {
		return res, err
	}
	if sum, ok := findAsset(rel.Assets, asset.Name+".sha256"); ok {
		expected, err := s.fetch(ctx, sum.URL)
		if err != nil {
			return res, err
		}
		if err := verifyChecksum(blob, checksumField(string(expected))); err != nil {
			return res, err
		}
	} else {
		logger.Warn("release publishes no checksum", "asset", asset.Name)
	}

	binary, err := extract(blob, asset.Name)
	if err != nil {
		return res, err
	}
	exe := os.Getenv("SHELLPM_SELF_UPDATE_TARGET")
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return res, fmt.Errorf("SELF_EXEC: %w", err)
		}
	}
	if err := applyBinarySwap(exe, binary); err != nil {
		return res, err
	}
	logger.Info("updated", "from", current, "to", rel.Tag, "executable", exe)
	res.Executable = exe
	res.Updated = true
	return res, nil
}

// newer reports whether tag is a later semantic version than current. A
// current version that is not valid semver is always considered older.
func newer(tag, current string) bool {
	latest := canonical(tag)
	if !semver.IsValid(latest) {
		return false
	}
	cur := canonical(current)
	if !semver.IsValid(cur) {
		return true
	}
	return semver.Compare(latest, cur) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func findAsset(assets []source.Asset, name string) (source.Asset, bool) {
	for _, a := range assets {
		if a.Name == name {
			return a, true
		}
	}
	return source.Asset{}, false
}

func (s *Service) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SELF_DOWNLOAD: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SELF_DOWNLOAD: %s: status %d", rawURL, resp.StatusCode)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("SELF_DOWNLOAD: %w", err)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("SELF_DOWNLOAD: empty payload")
	}
	return blob, nil
}

// checksumField takes the digest from sha256sum style output ("<hex>  name").
func checksumField(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func verifyChecksum(blob []byte, expected string) error {
	expected = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(expected), "sha256:"))
	h := sha256.Sum256(blob)
	actual := hex.EncodeToString(h[:])
	if actual != expected {
		return fmt.Errorf("SELF_CHECKSUM: expected %s got %s", expected, actual)
	}
	return nil
}

// extract unpacks the downloaded asset and returns the shellpm binary in it.
func extract(blob []byte, assetName string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "shellpm-self-")
	if err != nil {
		return nil, fmt.Errorf("SELF_EXTRACT: %w", err)
	}
	defer os.RemoveAll(dir)
	archive := filepath.Join(dir, "download")
	if err := os.WriteFile(archive, blob, 0o600); err != nil {
		return nil, fmt.Errorf("SELF_EXTRACT: %w", err)
	}
	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(tree, 0o755); err != nil {
		return nil, fmt.Errorf("SELF_EXTRACT: %w", err)
	}
	if err := source.Unpack(archive, assetName, tree, binaryName); err != nil {
		return nil, fmt.Errorf("SELF_EXTRACT: %s: %w", assetName, err)
	}
	var found string
	_ = filepath.WalkDir(tree, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !d.IsDir() && d.Name() == binaryName {
			found = path
		}
		return nil
	})
	if found == "" {
		return nil, fmt.Errorf("SELF_EXTRACT: %s: no %s binary in asset", assetName, binaryName)
	}
	return os.ReadFile(found)
}

func applyBinarySwap(executable string, binary []byte) error {
	mode := os.FileMode(0o755)
	if stat, err := os.Stat(executable); err == nil {
		mode = stat.Mode().Perm()
	}
	newPath := executable + ".new"
	backupPath := executable + ".bak"
	if err := os.WriteFile(newPath, binary, mode); err != nil {
		return fmt.Errorf("SELF_WRITE: %w", err)
	}
	if err := os.Rename(executable, backupPath); err != nil {
		_ = os.Remove(newPath)
		return fmt.Errorf("SELF_SWAP: backup failed: %w", err)
	}
	if os.Getenv("SHELLPM_TEST_FAIL_SELF_UPDATE_SWAP") == "1" {
		_ = os.Rename(backupPath, executable)
		_ = os.Remove(newPath)
		return fmt.Errorf("SELF_SWAP: injected swap failure")
	}
	if err := os.Rename(newPath, executable); err != nil {
		_ = os.Rename(backupPath, executable)
		_ = os.Remove(newPath)
		return fmt.Errorf("SELF_SWAP: apply failed: %w", err)
	}
	_ = os.Remove(backupPath)
	return nil
}
