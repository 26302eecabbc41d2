package selfupdate

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"shellpm/internal/source"
)

type fakeReleases struct {
	rel source.Release
	err error
}

func (f *fakeReleases) Release(context.Context, string, string) (source.Release, error) {
	return f.rel, f.err
}

func (f *fakeReleases) Download(context.Context, source.Asset, string, string) error {
	return nil
}

func tarGz(t *testing.T, name string, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func sum(blob []byte) string {
	h := sha256.Sum256(blob)
	return hex.EncodeToString(h[:])
}

func setup(t *testing.T, archive []byte, checksum string) (*Service, string) {
	t.Helper()
	target := filepath.Join(t.TempDir(), "shellpm")
	if err := os.WriteFile(target, []byte("old-binary"), 0o755); err != nil {
		t.Fatalf("write target failed: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/asset", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	})
	mux.HandleFunc("/asset.sha256", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(checksum + "  shellpm_1.2.0_linux_amd64.tar.gz\n"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	assets := []source.Asset{
		{Name: "shellpm_1.2.0_linux_amd64.tar.gz", URL: server.URL + "/asset"},
		{Name: "shellpm_1.2.0_darwin_arm64.tar.gz", URL: server.URL + "/missing"},
	}
	if checksum != "" {
		assets = append(assets, source.Asset{Name: "shellpm_1.2.0_linux_amd64.tar.gz.sha256", URL: server.URL + "/asset.sha256"})
	}
	svc := New(&fakeReleases{rel: source.Release{Tag: "v1.2.0", Assets: assets}}, server.Client(), "shellpm/shellpm")
	svc.goos, svc.goarch = "linux", "amd64"
	t.Setenv("SHELLPM_SELF_UPDATE_TARGET", target)
	return svc, target
}

func TestUpdateAppliesVerifiedBinary(t *testing.T) {
	archive := tarGz(t, "shellpm", []byte("new-binary"))
	svc, target := setup(t, archive, sum(archive))

	res, err := svc.Update(context.Background(), "v1.1.0")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !res.Updated || res.Latest != "v1.2.0" || res.Executable != target {
		t.Fatalf("unexpected result: %+v", res)
	}
	updated, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read updated binary failed: %v", err)
	}
	if string(updated) != "new-binary" {
		t.Fatalf("binary not updated, got %q", updated)
	}
	if _, err := os.Stat(target + ".bak"); !os.IsNotExist(err) {
		t.Fatalf("expected backup to be removed, stat err=%v", err)
	}
}

func TestUpdateSkipsWhenCurrent(t *testing.T) {
	archive := tarGz(t, "shellpm", []byte("new-binary"))
	svc, target := setup(t, archive, sum(archive))

	res, err := svc.Update(context.Background(), "1.2.0")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if res.Updated {
		t.Fatalf("expected no update, got %+v", res)
	}
	blob, _ := os.ReadFile(target)
	if string(blob) != "old-binary" {
		t.Fatalf("binary must be untouched")
	}
}

func TestUpdateChecksumMismatchFails(t *testing.T) {
	archive := tarGz(t, "shellpm", []byte("new-binary"))
	svc, target := setup(t, archive, "deadbeef")

	if _, err := svc.Update(context.Background(), "v1.0.0"); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
	blob, _ := os.ReadFile(target)
	if string(blob) != "old-binary" {
		t.Fatalf("binary must be untouched after checksum failure")
	}
}

func TestUpdateWithoutChecksumStillApplies(t *testing.T) {
	archive := tarGz(t, "shellpm", []byte("new-binary"))
	svc, target := setup(t, archive, "")

	if _, err := svc.Update(context.Background(), "v0.0.0-dev"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	blob, _ := os.ReadFile(target)
	if string(blob) != "new-binary" {
		t.Fatalf("binary not updated")
	}
}

func TestUpdateRollbackOnInjectedSwapFailure(t *testing.T) {
	archive := tarGz(t, "shellpm", []byte("new-binary"))
	svc, target := setup(t, archive, sum(archive))
	t.Setenv("SHELLPM_TEST_FAIL_SELF_UPDATE_SWAP", "1")

	if _, err := svc.Update(context.Background(), "v1.0.0"); err == nil {
		t.Fatalf("expected injected swap failure")
	}
	blob, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target failed: %v", err)
	}
	if string(blob) != "old-binary" {
		t.Fatalf("expected rollback to preserve previous binary")
	}
}

func TestUpdateArchiveWithoutBinaryFails(t *testing.T) {
	archive := tarGz(t, "README.md", []byte("docs"))
	svc, _ := setup(t, archive, sum(archive))
	if _, err := svc.Update(context.Background(), "v1.0.0"); err == nil {
		t.Fatalf("expected missing binary error")
	}
}

func TestNewer(t *testing.T) {
	cases := []struct {
		tag, current string
		want         bool
	}{
		{"v1.2.0", "v1.1.9", true},
		{"1.2.0", "v1.2.0", false},
		{"v1.2.0", "v1.10.0", false},
		{"v1.0.0", "dev", true},
		{"nightly", "v1.0.0", false},
		{"v1.0.0", "v1.0.0-rc.1", true},
	}
	for _, tc := range cases {
		if got := newer(tc.tag, tc.current); got != tc.want {
			t.Errorf("newer(%q, %q) = %v; want %v", tc.tag, tc.current, got, tc.want)
		}
	}
}

func TestChecksumField(t *testing.T) {
	if got := checksumField("abc123  file.tar.gz\n"); got != "abc123" {
		t.Errorf("checksumField = %q", got)
	}
	if got := checksumField("   "); got != "" {
		t.Errorf("checksumField(blank) = %q", got)
	}
}
